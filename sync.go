package relx

import (
	"context"
	"log/slog"

	"github.com/hatlonely/relx/command"
	"github.com/hatlonely/relx/driver"
	"github.com/pkg/errors"
)

// SynchronizerOptions 同步器选项
type SynchronizerOptions struct {
	// 命令执行器，承载建表建索引命令
	Executor *command.Executor `validate:"required"`
	// 日志器，默认 slog.Default()
	Logger *slog.Logger
}

// Synchronizer 表结构同步器。
// 幂等地确保表与索引存在：带索引或唯一标记的字段建立以字段名命名的
// 单字段索引，命名复合索引按声明的字段顺序建立。
// 效果是集合式的，可以重复调用，也可以被多个调用方并发调用。
type Synchronizer struct {
	executor *command.Executor
	logger   *slog.Logger
}

func NewSynchronizerWithOptions(options *SynchronizerOptions) (*Synchronizer, error) {
	if options == nil || options.Executor == nil {
		return nil, errors.New("executor is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{executor: options.Executor, logger: logger}, nil
}

// SyncTable 同步一张表的结构，驱动层失败以 SyncError 返回
func (s *Synchronizer) SyncTable(ctx context.Context, t *Table) error {
	t.resolveSchema()

	if err := s.executor.Exec(ctx, command.EnsureTable(driver.TableSpec{
		Name:       t.name,
		PrimaryKey: t.pk,
	})); err != nil {
		return &SyncError{Table: t.name, Err: err}
	}

	for _, field := range sortedKeys(t.fields) {
		spec := t.fields[field]
		if spec.PrimaryKey || (!spec.Index && !spec.Unique) {
			continue
		}
		if err := s.executor.Exec(ctx, command.EnsureIndex(t.name, driver.IndexSpec{
			Name:   field,
			Fields: []string{field},
			Unique: spec.Unique,
		})); err != nil {
			return &SyncError{Table: t.name, Err: err}
		}
		s.logger.Debug("ensure index", "table", t.name, "index", field, "unique", spec.Unique)
	}

	for _, name := range sortedKeys(t.indexes) {
		if err := s.executor.Exec(ctx, command.EnsureIndex(t.name, driver.IndexSpec{
			Name:   name,
			Fields: t.indexes[name],
		})); err != nil {
			return &SyncError{Table: t.name, Err: err}
		}
		s.logger.Debug("ensure index", "table", t.name, "index", name, "fields", t.indexes[name])
	}

	return nil
}

// Sync 同步本表的结构，等价于用默认同步器执行 SyncTable
func (t *Table) Sync(ctx context.Context, executor *command.Executor) error {
	synchronizer, err := NewSynchronizerWithOptions(&SynchronizerOptions{Executor: executor})
	if err != nil {
		return err
	}
	return synchronizer.SyncTable(ctx, t)
}
