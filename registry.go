package relx

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/relx/schema"
	"github.com/hatlonely/relx/uid"
)

// RegistryOptions 注册表选项，未设置的能力使用默认实现
type RegistryOptions struct {
	// 字段校验器，默认 schema.NewValidator()
	Validator *schema.Validator
	// 主键生成器，默认无连字符的 UUID v4
	Generator uid.Generator
	// 时间戳时钟，默认 time.Now
	Clock func() time.Time
}

// Registry 表注册表，两阶段构建：
// 先通过 AddTable 注册所有表骨架（名称、主键、索引），
// 全部骨架就位后调用 Resolve 统一解析各表的字段与关联，
// 互相引用的表由此摆脱构建顺序的限制。
// Resolve 之后注册表只读，可以安全地并发使用。
type Registry struct {
	validator *schema.Validator
	generator uid.Generator
	clock     func() time.Time

	tables   map[string]*Table
	names    []string
	resolved bool
}

func NewRegistryWithOptions(options *RegistryOptions) (*Registry, error) {
	if options == nil {
		options = &RegistryOptions{}
	}
	validator := options.Validator
	if validator == nil {
		validator = schema.NewValidator()
	}
	generator := options.Generator
	if generator == nil {
		generator = uid.NewUUIDGeneratorWithOptions(nil)
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Registry{
		validator: validator,
		generator: generator,
		clock:     clock,
		tables:    map[string]*Table{},
	}, nil
}

// AddTable 注册一张表的骨架并返回表句柄。
// 句柄立即可用于其他表的 Schema/Relations 构建函数，
// 字段与关联直到 Resolve 阶段才求值。
func (r *Registry) AddTable(options *TableOptions) *Table {
	t := newTable(r, options)
	if _, exists := r.tables[t.name]; !exists {
		r.names = append(r.names, t.name)
	}
	r.tables[t.name] = t
	return t
}

// Table 按名称查找已注册的表，不存在时返回 nil
func (r *Registry) Table(name string) *Table {
	return r.tables[name]
}

// Resolve 解析所有表的字段与关联并检查结构约束。
// 字段构建函数里对其他表的引用（外键合成、字段断言）按需触发对方
// 表的解析，出现解析循环或引用缺失字段时以 SchemaError 失败。
// 成功后注册表进入只读状态。
func (r *Registry) Resolve() (err error) {
	defer func() {
		if p := recover(); p != nil {
			if se, ok := p.(*SchemaError); ok {
				err = se
				return
			}
			panic(p)
		}
	}()

	sort.Strings(r.names)

	for _, name := range r.names {
		t := r.tables[name]
		if t.name == "" {
			return errors.Errorf("table name is required")
		}
		t.resolveSchema()
	}

	for _, name := range r.names {
		t := r.tables[name]
		if err := t.resolveRelations(); err != nil {
			return err
		}
	}

	r.resolved = true
	return nil
}
