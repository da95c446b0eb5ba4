package command

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/relx/driver"
)

// ExecutorOptions 执行器选项
type ExecutorOptions struct {
	// Driver 底层文档存储驱动
	Driver driver.Driver `validate:"required"`
	// Clock 执行时钟，更新命令的时间戳字段由它求值，默认 time.Now
	Clock func() time.Time
}

// Executor 命令树解释器，命令的全部 I/O 在这里发生
type Executor struct {
	driver driver.Driver
	clock  func() time.Time
}

func NewExecutorWithOptions(options *ExecutorOptions) (*Executor, error) {
	if options == nil || options.Driver == nil {
		return nil, errors.New("driver is required")
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Executor{driver: options.Driver, clock: clock}, nil
}

// value 一次求值的结果。
// single 表示结果形状为单条记录（Get/First 及其派生），此时 row 可能为 nil。
type value struct {
	rows   []driver.Record
	row    driver.Record
	single bool
	ok     bool
}

// records 以序列视图返回结果
func (v value) records() []driver.Record {
	if v.single {
		if v.row == nil {
			return nil
		}
		return []driver.Record{v.row}
	}
	return v.rows
}

// Rows 执行命令并返回记录序列，结果非 nil
func (e *Executor) Rows(ctx context.Context, cmd *Command) ([]driver.Record, error) {
	v, err := e.eval(ctx, cmd)
	if err != nil {
		return nil, err
	}
	records := v.records()
	if records == nil {
		records = []driver.Record{}
	}
	return records, nil
}

// Row 执行命令并返回单条记录，无结果时返回 nil 而非错误
func (e *Executor) Row(ctx context.Context, cmd *Command) (driver.Record, error) {
	v, err := e.eval(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if v.single {
		return v.row, nil
	}
	if len(v.rows) > 0 {
		return v.rows[0], nil
	}
	return nil, nil
}

// Bool 执行命令并返回布尔结果，用于 Exists 命令
func (e *Executor) Bool(ctx context.Context, cmd *Command) (bool, error) {
	v, err := e.eval(ctx, cmd)
	if err != nil {
		return false, err
	}
	return v.ok, nil
}

// Exec 执行命令并丢弃结果，用于写入类命令
func (e *Executor) Exec(ctx context.Context, cmd *Command) error {
	_, err := e.eval(ctx, cmd)
	return err
}

func (e *Executor) eval(ctx context.Context, cmd *Command) (value, error) {
	if cmd == nil {
		return value{}, errors.New("nil command")
	}

	switch cmd.kind {
	case KindGet:
		record, err := e.driver.Get(ctx, cmd.table, cmd.id)
		if err != nil {
			if errors.Is(err, driver.ErrRecordNotFound) {
				return value{single: true}, nil
			}
			return value{}, errors.WithMessagef(err, "get %s", cmd.table)
		}
		return value{single: true, row: record, ok: true}, nil

	case KindGetAll:
		records, err := e.driver.Find(ctx, cmd.table, nil)
		if err != nil {
			return value{}, errors.WithMessagef(err, "scan %s", cmd.table)
		}
		return value{rows: records, ok: len(records) > 0}, nil

	case KindFilter:
		// 直接落在全表扫描上的过滤下推给驱动，其余在内存中过滤
		if cmd.base.kind == KindGetAll {
			records, err := e.driver.Find(ctx, cmd.table, cmd.conds)
			if err != nil {
				return value{}, errors.WithMessagef(err, "filter %s", cmd.table)
			}
			return value{rows: records, ok: len(records) > 0}, nil
		}
		v, err := e.eval(ctx, cmd.base)
		if err != nil {
			return value{}, err
		}
		var kept []driver.Record
		for _, record := range v.records() {
			if driver.Match(record, cmd.conds) {
				kept = append(kept, record)
			}
		}
		return value{rows: kept, ok: len(kept) > 0}, nil

	case KindIndexLookup:
		records, err := e.driver.FindByIndex(ctx, cmd.table, cmd.index, cmd.key)
		if err != nil {
			return value{}, errors.WithMessagef(err, "index lookup %s.%s", cmd.table, cmd.index)
		}
		return value{rows: records, ok: len(records) > 0}, nil

	case KindVia:
		v, err := e.eval(ctx, cmd.base)
		if err != nil {
			return value{}, err
		}
		var records []driver.Record
		for _, record := range v.records() {
			ref := record[cmd.pluck]
			if ref == nil {
				continue
			}
			target, err := e.driver.Get(ctx, cmd.target, ref)
			if err != nil {
				if errors.Is(err, driver.ErrRecordNotFound) {
					continue
				}
				return value{}, errors.WithMessagef(err, "via %s", cmd.target)
			}
			records = append(records, target)
		}
		return value{rows: records, ok: len(records) > 0}, nil

	case KindFirst:
		v, err := e.eval(ctx, cmd.base)
		if err != nil {
			return value{}, err
		}
		records := v.records()
		if len(records) == 0 {
			return value{single: true}, nil
		}
		return value{single: true, row: records[0], ok: true}, nil

	case KindExists:
		v, err := e.eval(ctx, cmd.base)
		if err != nil {
			return value{}, err
		}
		return value{ok: len(v.records()) > 0}, nil

	case KindInsert:
		if err := e.driver.Insert(ctx, cmd.table, cmd.rows); err != nil {
			return value{}, errors.WithMessagef(err, "insert %s", cmd.table)
		}
		return value{ok: true}, nil

	case KindUpdate:
		ids, err := e.targetIDs(ctx, cmd)
		if err != nil {
			return value{}, err
		}
		if len(ids) == 0 {
			return value{}, nil
		}
		patch := cmd.patch.Clone()
		if patch == nil {
			patch = driver.Record{}
		}
		if cmd.touch != "" {
			patch[cmd.touch] = e.clock()
		}
		if err := e.driver.Update(ctx, cmd.table, ids, patch); err != nil {
			return value{}, errors.WithMessagef(err, "update %s", cmd.table)
		}
		return value{ok: true}, nil

	case KindDelete:
		ids, err := e.targetIDs(ctx, cmd)
		if err != nil {
			return value{}, err
		}
		if len(ids) == 0 {
			return value{}, nil
		}
		if err := e.driver.Delete(ctx, cmd.table, ids); err != nil {
			return value{}, errors.WithMessagef(err, "delete %s", cmd.table)
		}
		return value{ok: true}, nil

	case KindMerge:
		v, err := e.eval(ctx, cmd.base)
		if err != nil {
			return value{}, err
		}
		for _, record := range v.records() {
			if err := e.merge(ctx, record, cmd.merges); err != nil {
				return value{}, err
			}
		}
		return v, nil

	case KindEnsureTable:
		if err := e.driver.EnsureTable(ctx, cmd.tableSpec); err != nil {
			return value{}, errors.WithMessagef(err, "ensure table %s", cmd.table)
		}
		return value{ok: true}, nil

	case KindEnsureIndex:
		if err := e.driver.EnsureIndex(ctx, cmd.table, cmd.indexSpec); err != nil {
			return value{}, errors.WithMessagef(err, "ensure index %s.%s", cmd.table, cmd.indexSpec.Name)
		}
		return value{ok: true}, nil
	}

	return value{}, errors.Errorf("unknown command kind %d", cmd.kind)
}

// merge 在单条父记录上嵌入全部关联结果
func (e *Executor) merge(ctx context.Context, parent driver.Record, merges []MergeSpec) error {
	for _, spec := range merges {
		sub := spec.Build(parent)

		switch spec.Mode {
		case MergeOne:
			// 无关联时嵌入显式 null，字段永远存在
			if sub == nil {
				parent[spec.Field] = nil
				continue
			}
			v, err := e.eval(ctx, sub)
			if err != nil {
				return err
			}
			row, _ := firstRecord(v)
			if row == nil {
				parent[spec.Field] = nil
			} else {
				parent[spec.Field] = row
			}

		case MergeMany:
			// 序列永远非 nil，可能为空
			if sub == nil {
				parent[spec.Field] = []driver.Record{}
				continue
			}
			v, err := e.eval(ctx, sub)
			if err != nil {
				return err
			}
			records := v.records()
			if records == nil {
				records = []driver.Record{}
			}
			parent[spec.Field] = records

		default:
			return errors.Errorf("unknown merge mode %d for %s", spec.Mode, spec.Field)
		}
	}
	return nil
}

func firstRecord(v value) (driver.Record, bool) {
	if v.single {
		return v.row, v.row != nil
	}
	if len(v.rows) > 0 {
		return v.rows[0], true
	}
	return nil, false
}

// targetIDs 解析写入命令的目标主键：显式列表或由上游查询派生
func (e *Executor) targetIDs(ctx context.Context, cmd *Command) ([]any, error) {
	if cmd.base == nil {
		return cmd.ids, nil
	}
	v, err := e.eval(ctx, cmd.base)
	if err != nil {
		return nil, err
	}
	var ids []any
	for _, record := range v.records() {
		if id := record[cmd.pk]; id != nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
