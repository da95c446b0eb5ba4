package driver

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// BoltOptions 嵌入式驱动选项
type BoltOptions struct {
	// DBPath 数据库文件路径，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// Timeout 获取文件锁的等待时间，为零时无限期等待
	Timeout time.Duration `cfg:"timeout"`

	// NoSync 跳过每次提交的 fsync，写入性能更好但进程崩溃可能丢数据
	NoSync bool `cfg:"noSync"`
}

// 表/索引定义在 meta 桶中持久化，重新打开数据库后无需重新注册
const boltMetaBucket = "__relx_meta"

// 索引条目键中，索引键与主键之间的终结符，以及组合索引字段间的分隔符
const (
	boltKeyTerm = "\x00"
	boltKeySep  = "\x1f"
)

// Bolt 基于 bbolt 的嵌入式文档驱动。
// 每张表一个桶，记录按主键以 msgpack 编码存储；
// 每个索引一个 idx.<表名>.<索引名> 桶，桶内保存 索引键+主键 的反向引用，
// 组合索引按声明顺序拼接字段值，前缀扫描即可按第一个字段查询。
type Bolt struct {
	db *bolt.DB

	mutex   sync.RWMutex
	tables  map[string]TableSpec
	indexes map[string]map[string]IndexSpec
}

func NewBoltWithOptions(options *BoltOptions) (*Bolt, error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{Timeout: options.Timeout})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open boltdb %s", options.DBPath)
	}
	db.NoSync = options.NoSync

	b := &Bolt{
		db:      db,
		tables:  make(map[string]TableSpec),
		indexes: make(map[string]map[string]IndexSpec),
	}
	if err := b.loadMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// loadMeta 启动时恢复已持久化的表和索引定义
func (b *Bolt) loadMeta() error {
	return b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(boltMetaBucket))
		if meta == nil {
			return nil
		}
		return meta.ForEach(func(k, v []byte) error {
			key := string(k)
			switch {
			case strings.HasPrefix(key, "tbl."):
				var spec TableSpec
				if err := msgpack.Unmarshal(v, &spec); err != nil {
					return errors.Wrapf(err, "corrupted table meta %s", key)
				}
				b.tables[spec.Name] = spec
			case strings.HasPrefix(key, "idx."):
				var spec IndexSpec
				if err := msgpack.Unmarshal(v, &spec); err != nil {
					return errors.Wrapf(err, "corrupted index meta %s", key)
				}
				table := strings.TrimPrefix(key, "idx.")
				table = table[:strings.LastIndex(table, ".")]
				if b.indexes[table] == nil {
					b.indexes[table] = make(map[string]IndexSpec)
				}
				b.indexes[table][spec.Name] = spec
			}
			return nil
		})
	})
}

func (b *Bolt) EnsureTable(ctx context.Context, spec TableSpec) error {
	if spec.PrimaryKey == "" {
		spec.PrimaryKey = "id"
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(spec.Name)); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(boltMetaBucket))
		if err != nil {
			return err
		}
		raw, err := msgpack.Marshal(&spec)
		if err != nil {
			return err
		}
		return meta.Put([]byte("tbl."+spec.Name), raw)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to ensure table %s", spec.Name)
	}

	b.mutex.Lock()
	b.tables[spec.Name] = spec
	if b.indexes[spec.Name] == nil {
		b.indexes[spec.Name] = make(map[string]IndexSpec)
	}
	b.mutex.Unlock()
	return nil
}

func (b *Bolt) EnsureIndex(ctx context.Context, table string, index IndexSpec) error {
	pk, err := b.pkField(table)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		idx, err := tx.CreateBucketIfNotExists([]byte(indexBucketName(table, index.Name)))
		if err != nil {
			return err
		}

		// 回填已有记录，重复执行是幂等的
		data := tx.Bucket([]byte(table))
		if data == nil {
			return errors.WithMessage(ErrTableNotFound, table)
		}
		if err := data.ForEach(func(_, raw []byte) error {
			record, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			return putIndexEntry(idx, index, record, record[pk])
		}); err != nil {
			return err
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(boltMetaBucket))
		if err != nil {
			return err
		}
		raw, err := msgpack.Marshal(&index)
		if err != nil {
			return err
		}
		return meta.Put([]byte("idx."+table+"."+index.Name), raw)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return err
		}
		return errors.Wrapf(err, "failed to ensure index %s on %s", index.Name, table)
	}

	b.mutex.Lock()
	b.indexes[table][index.Name] = index
	b.mutex.Unlock()
	return nil
}

func (b *Bolt) Get(ctx context.Context, table string, id any) (Record, error) {
	var record Record
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(table))
		if data == nil {
			return errors.WithMessage(ErrTableNotFound, table)
		}
		raw := data.Get(idKey(id))
		if raw == nil {
			return ErrRecordNotFound
		}
		var err error
		record, err = decodeRecord(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (b *Bolt) Find(ctx context.Context, table string, conds map[string]any) ([]Record, error) {
	var records []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(table))
		if data == nil {
			return errors.WithMessage(ErrTableNotFound, table)
		}
		return data.ForEach(func(_, raw []byte) error {
			record, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if len(conds) == 0 || Match(record, conds) {
				records = append(records, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (b *Bolt) FindByIndex(ctx context.Context, table string, index string, key any) ([]Record, error) {
	b.mutex.RLock()
	spec, ok := b.indexes[table][index]
	b.mutex.RUnlock()
	if !ok || len(spec.Fields) == 0 {
		return nil, errors.WithMessage(ErrIndexNotFound, index)
	}

	// 组合索引按第一个字段做前缀扫描
	prefix := encodeIndexValue(key)
	if len(spec.Fields) > 1 {
		prefix += boltKeySep
	} else {
		prefix += boltKeyTerm
	}

	var records []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket([]byte(indexBucketName(table, index)))
		data := tx.Bucket([]byte(table))
		if idx == nil || data == nil {
			return errors.WithMessage(ErrIndexNotFound, index)
		}
		cursor := idx.Cursor()
		for k, v := cursor.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, v = cursor.Next() {
			raw := data.Get(v)
			if raw == nil {
				continue
			}
			record, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (b *Bolt) Insert(ctx context.Context, table string, records []Record) error {
	pk, err := b.pkField(table)
	if err != nil {
		return err
	}
	indexes := b.tableIndexes(table)

	err = b.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(table))
		if data == nil {
			return errors.WithMessage(ErrTableNotFound, table)
		}
		for _, record := range records {
			key := idKey(record[pk])
			if data.Get(key) != nil {
				return errors.WithMessage(ErrDuplicateKey, table)
			}
			for _, index := range indexes {
				idx := tx.Bucket([]byte(indexBucketName(table, index.Name)))
				if idx == nil {
					continue
				}
				if err := putIndexEntry(idx, index, record, record[pk]); err != nil {
					return err
				}
			}
			raw, err := msgpack.Marshal(map[string]any(record))
			if err != nil {
				return err
			}
			if err := data.Put(key, raw); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateKey) {
		return err
	}
	return errors.Wrapf(err, "failed to insert into %s", table)
}

func (b *Bolt) Update(ctx context.Context, table string, ids []any, patch Record) error {
	pk, err := b.pkField(table)
	if err != nil {
		return err
	}
	indexes := b.tableIndexes(table)

	err = b.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(table))
		if data == nil {
			return errors.WithMessage(ErrTableNotFound, table)
		}
		for _, id := range ids {
			key := idKey(id)
			raw := data.Get(key)
			if raw == nil {
				continue
			}
			record, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			merged := record.Clone()
			for k, v := range patch {
				merged[k] = v
			}
			for _, index := range indexes {
				idx := tx.Bucket([]byte(indexBucketName(table, index.Name)))
				if idx == nil {
					continue
				}
				if err := idx.Delete(indexEntryKey(index, record, record[pk])); err != nil {
					return err
				}
				if err := putIndexEntry(idx, index, merged, merged[pk]); err != nil {
					return err
				}
			}
			encoded, err := msgpack.Marshal(map[string]any(merged))
			if err != nil {
				return err
			}
			if err := data.Put(key, encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateKey) {
		return err
	}
	return errors.Wrapf(err, "failed to update %s", table)
}

func (b *Bolt) Delete(ctx context.Context, table string, ids []any) error {
	pk, err := b.pkField(table)
	if err != nil {
		return err
	}
	indexes := b.tableIndexes(table)

	err = b.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(table))
		if data == nil {
			return errors.WithMessage(ErrTableNotFound, table)
		}
		for _, id := range ids {
			key := idKey(id)
			raw := data.Get(key)
			if raw == nil {
				continue
			}
			record, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			for _, index := range indexes {
				idx := tx.Bucket([]byte(indexBucketName(table, index.Name)))
				if idx == nil {
					continue
				}
				if err := idx.Delete(indexEntryKey(index, record, record[pk])); err != nil {
					return err
				}
			}
			if err := data.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "failed to delete from %s", table)
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) pkField(table string) (string, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	spec, ok := b.tables[table]
	if !ok {
		return "", errors.WithMessage(ErrTableNotFound, table)
	}
	return spec.PrimaryKey, nil
}

func (b *Bolt) tableIndexes(table string) []IndexSpec {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	indexes := make([]IndexSpec, 0, len(b.indexes[table]))
	for _, spec := range b.indexes[table] {
		indexes = append(indexes, spec)
	}
	return indexes
}

func indexBucketName(table, index string) string {
	return "idx." + table + "." + index
}

func idKey(id any) []byte {
	return []byte(fmt.Sprint(id))
}

// encodeIndexValue 索引键中字段值的文本编码
func encodeIndexValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// indexEntryKey 索引条目键：字段值（组合索引按声明顺序拼接）+ 终结符 + 主键
func indexEntryKey(index IndexSpec, record Record, id any) []byte {
	parts := make([]string, len(index.Fields))
	for i, field := range index.Fields {
		parts[i] = encodeIndexValue(record[field])
	}
	return []byte(strings.Join(parts, boltKeySep) + boltKeyTerm + string(idKey(id)))
}

// putIndexEntry 写入索引条目，唯一索引下检测到其它主键的同键条目时报冲突
func putIndexEntry(idx *bolt.Bucket, index IndexSpec, record Record, id any) error {
	entry := indexEntryKey(index, record, id)
	if index.Unique {
		parts := make([]string, len(index.Fields))
		for i, field := range index.Fields {
			parts[i] = encodeIndexValue(record[field])
		}
		prefix := []byte(strings.Join(parts, boltKeySep) + boltKeyTerm)
		cursor := idx.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			if !bytes.Equal(k, entry) {
				return errors.WithMessage(ErrDuplicateKey, index.Name)
			}
		}
	}
	return idx.Put(entry, idKey(id))
}

func decodeRecord(raw []byte) (Record, error) {
	var record map[string]any
	if err := msgpack.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrap(err, "failed to decode record")
	}
	return Record(record), nil
}
