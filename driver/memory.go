package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Memory 内存文档驱动，记录按插入顺序保存，主要用于单元测试。
// 所有读操作返回记录的拷贝，调用方修改结果不影响存储内容。
type Memory struct {
	mutex  sync.RWMutex
	tables map[string]*memoryTable
	ops    atomic.Int64
}

type memoryTable struct {
	spec    TableSpec
	rows    []Record
	indexes map[string]IndexSpec
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memoryTable)}
}

// Ops 返回驱动执行过的操作总数，用于验证命令构建的惰性
func (m *Memory) Ops() int {
	return int(m.ops.Load())
}

// TableNames 返回已创建的表名集合
func (m *Memory) TableNames() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	return names
}

// Indexes 返回表上已创建的索引
func (m *Memory) Indexes(table string) map[string]IndexSpec {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	tbl, ok := m.tables[table]
	if !ok {
		return nil
	}
	result := make(map[string]IndexSpec, len(tbl.indexes))
	for name, spec := range tbl.indexes {
		result[name] = spec
	}
	return result
}

func (m *Memory) EnsureTable(ctx context.Context, spec TableSpec) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ops.Add(1)
	if spec.PrimaryKey == "" {
		spec.PrimaryKey = "id"
	}
	if _, ok := m.tables[spec.Name]; !ok {
		m.tables[spec.Name] = &memoryTable{
			spec:    spec,
			indexes: make(map[string]IndexSpec),
		}
	}
	return nil
}

func (m *Memory) EnsureIndex(ctx context.Context, table string, index IndexSpec) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return errors.WithMessage(ErrTableNotFound, table)
	}
	tbl.indexes[index.Name] = index
	return nil
}

func (m *Memory) Get(ctx context.Context, table string, id any) (Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return nil, errors.WithMessage(ErrTableNotFound, table)
	}
	for _, row := range tbl.rows {
		if equalValue(row[tbl.spec.PrimaryKey], id) {
			return row.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) Find(ctx context.Context, table string, conds map[string]any) ([]Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return nil, errors.WithMessage(ErrTableNotFound, table)
	}
	var result []Record
	for _, row := range tbl.rows {
		if len(conds) == 0 || Match(row, conds) {
			result = append(result, row.Clone())
		}
	}
	return result, nil
}

func (m *Memory) FindByIndex(ctx context.Context, table string, index string, key any) ([]Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return nil, errors.WithMessage(ErrTableNotFound, table)
	}
	spec, ok := tbl.indexes[index]
	if !ok || len(spec.Fields) == 0 {
		return nil, errors.WithMessage(ErrIndexNotFound, index)
	}
	var result []Record
	for _, row := range tbl.rows {
		if equalValue(row[spec.Fields[0]], key) {
			result = append(result, row.Clone())
		}
	}
	return result, nil
}

func (m *Memory) Insert(ctx context.Context, table string, records []Record) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return errors.WithMessage(ErrTableNotFound, table)
	}
	for _, record := range records {
		if err := tbl.checkUnique(record, nil); err != nil {
			return err
		}
		tbl.rows = append(tbl.rows, record.Clone())
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, table string, ids []any, patch Record) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return errors.WithMessage(ErrTableNotFound, table)
	}
	for i, row := range tbl.rows {
		if !containsID(ids, row[tbl.spec.PrimaryKey]) {
			continue
		}
		merged := row.Clone()
		for k, v := range patch {
			merged[k] = v
		}
		if err := tbl.checkUnique(merged, row); err != nil {
			return err
		}
		tbl.rows[i] = merged
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, table string, ids []any) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ops.Add(1)
	tbl, ok := m.tables[table]
	if !ok {
		return errors.WithMessage(ErrTableNotFound, table)
	}
	kept := tbl.rows[:0]
	for _, row := range tbl.rows {
		if !containsID(ids, row[tbl.spec.PrimaryKey]) {
			kept = append(kept, row)
		}
	}
	tbl.rows = kept
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// checkUnique 校验唯一索引约束，skip 为更新场景下的原记录
func (t *memoryTable) checkUnique(record Record, skip Record) error {
	for _, index := range t.indexes {
		if !index.Unique {
			continue
		}
		for _, row := range t.rows {
			if skip != nil && equalValue(row[t.spec.PrimaryKey], skip[t.spec.PrimaryKey]) {
				continue
			}
			same := true
			for _, field := range index.Fields {
				if !equalValue(row[field], record[field]) {
					same = false
					break
				}
			}
			if same {
				return errors.WithMessage(ErrDuplicateKey, index.Name)
			}
		}
	}
	return nil
}

func containsID(ids []any, id any) bool {
	for _, candidate := range ids {
		if equalValue(candidate, id) {
			return true
		}
	}
	return false
}
