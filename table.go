package relx

import (
	"sort"

	"github.com/hatlonely/relx/command"
	"github.com/hatlonely/relx/driver"
	"github.com/hatlonely/relx/schema"
)

const (
	defaultPrimaryKey = "id"
	fieldCreatedAt    = "createdAt"
	fieldUpdatedAt    = "updatedAt"
)

// TableOptions 表声明
type TableOptions struct {
	// 表名
	Name string `validate:"required"`
	// 主键字段名，默认 id
	PrimaryKey string `def:"id"`
	// 命名复合索引，值为按序排列的字段名列表
	Indexes map[string][]string
	// 字段构建函数，Resolve 阶段求值，可引用注册表内的其他表
	Schema func(r *Registry) map[string]*schema.FieldSpec
	// 关联构建函数，Resolve 阶段求值
	Relations func(r *Registry) map[string]*Relation
}

type schemaState int

const (
	schemaUnresolved schemaState = iota
	schemaResolving
	schemaResolved
)

// Table 逻辑实体表。
// 名称与主键构建后不可变，字段与关联在 Resolve 阶段解析；
// 表本身不持有行数据，记录以普通映射在命令中流转。
type Table struct {
	registry *Registry

	name    string
	pk      string
	indexes map[string][]string

	schemaFn    func(r *Registry) map[string]*schema.FieldSpec
	relationsFn func(r *Registry) map[string]*Relation

	state     schemaState
	fields    map[string]*schema.FieldSpec
	relations map[string]*Relation
}

func newTable(r *Registry, options *TableOptions) *Table {
	if options == nil {
		options = &TableOptions{}
	}
	pk := options.PrimaryKey
	if pk == "" {
		pk = defaultPrimaryKey
	}
	indexes := map[string][]string{}
	for name, fields := range options.Indexes {
		indexes[name] = append([]string{}, fields...)
	}

	return &Table{
		registry:    r,
		name:        options.Name,
		pk:          pk,
		indexes:     indexes,
		schemaFn:    options.Schema,
		relationsFn: options.Relations,
	}
}

// Name 表名
func (t *Table) Name() string {
	return t.name
}

// PrimaryKey 主键字段名
func (t *Table) PrimaryKey() string {
	return t.pk
}

// resolveSchema 解析字段表。只在解析阶段调用，循环引用直接
// panic SchemaError，由 Registry.Resolve 捕获成错误返回。
// 隐式字段 id/createdAt/updatedAt 在未被调用方同名字段遮蔽时注入。
func (t *Table) resolveSchema() {
	switch t.state {
	case schemaResolved:
		return
	case schemaResolving:
		panic(&SchemaError{Table: t.name, Reason: "schema resolution cycle"})
	}
	t.state = schemaResolving

	fields := map[string]*schema.FieldSpec{}
	if t.schemaFn != nil {
		for name, spec := range t.schemaFn(t.registry) {
			fields[name] = spec
		}
	}

	if _, ok := fields[t.pk]; !ok {
		fields[t.pk] = &schema.FieldSpec{
			Type:       schema.FieldTypeString,
			Required:   true,
			PrimaryKey: true,
			Default:    func() any { return t.registry.generator.NewID() },
		}
	}
	if _, ok := fields[fieldCreatedAt]; !ok {
		fields[fieldCreatedAt] = &schema.FieldSpec{
			Type:    schema.FieldTypeDatetime,
			Default: func() any { return t.registry.clock() },
		}
	}
	if _, ok := fields[fieldUpdatedAt]; !ok {
		fields[fieldUpdatedAt] = &schema.FieldSpec{
			Type:    schema.FieldTypeDatetime,
			Default: func() any { return t.registry.clock() },
		}
	}

	t.fields = fields
	t.state = schemaResolved
}

// resolveRelations 解析并校验关联表，在所有表字段解析完成之后调用
func (t *Table) resolveRelations() error {
	relations := map[string]*Relation{}
	if t.relationsFn != nil {
		for name, relation := range t.relationsFn(t.registry) {
			relations[name] = relation
		}
	}
	for _, name := range sortedKeys(relations) {
		if err := relations[name].validate(t, name); err != nil {
			return err
		}
	}
	t.relations = relations
	return nil
}

// Schema 解析后的字段表，调用方不应修改
func (t *Table) Schema() map[string]*schema.FieldSpec {
	t.resolveSchema()
	return t.fields
}

// HasField 字段是否存在
func (t *Table) HasField(name string) bool {
	t.resolveSchema()
	_, ok := t.fields[name]
	return ok
}

// AssertField 断言字段存在，不存在时返回 SchemaError
func (t *Table) AssertField(name string) error {
	if !t.HasField(name) {
		return &SchemaError{Table: t.name, Field: name, Reason: "field not found"}
	}
	return nil
}

// GetField 取字段描述符，不存在时返回 SchemaError
func (t *Table) GetField(name string) (*schema.FieldSpec, error) {
	if err := t.AssertField(name); err != nil {
		return nil, err
	}
	return t.fields[name], nil
}

// Validate 校验记录是否符合字段表，只返回布尔结果，不修改输入。
// 字段表之外的多余字段不参与校验。
func (t *Table) Validate(record driver.Record) bool {
	t.resolveSchema()
	validator := t.registry.validator
	for name, spec := range t.fields {
		if !validator.Validate(spec, record[name]) {
			return false
		}
	}
	return true
}

// Create 对部分记录应用默认值（含主键生成与时间戳）后校验，
// 校验失败时返回 ValidationError，Fields 为全部未通过的字段。
// 除主键生成外不触碰任何外部状态。
func (t *Table) Create(partial driver.Record) (driver.Record, error) {
	t.resolveSchema()
	validator := t.registry.validator

	record := driver.Record{}
	for name, value := range partial {
		record[name] = value
	}
	for name, spec := range t.fields {
		if _, ok := record[name]; ok {
			continue
		}
		value := validator.ApplyDefault(spec)
		if value == nil {
			continue
		}
		if value == schema.Null {
			record[name] = nil
			continue
		}
		record[name] = value
	}

	var invalid []string
	for name, spec := range t.fields {
		if !validator.Validate(spec, record[name]) {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, &ValidationError{Table: t.name, Fields: invalid}
	}

	return record, nil
}

// Attempt 与 Create 语义相同，用于调用点表意
func (t *Table) Attempt(partial driver.Record) (driver.Record, error) {
	return t.Create(partial)
}

// ForeignKeyOptions 外键字段合成选项
type ForeignKeyOptions struct {
	// 被引用字段名，默认本表主键
	FieldName string
	// 中间表外键：必填且无默认值，中间表的外键列必须始终有值
	ManyToMany bool
}

// ForeignKey 合成一个可嵌入其他表字段表的外键描述符，
// 类型沿用本表被引用字段的类型。默认可缺省且默认为显式 null；
// ManyToMany 时必填且无默认值。
// 被引用字段不存在时 panic SchemaError，在字段构建函数内使用，
// 由 Registry.Resolve 捕获成错误返回。
func (t *Table) ForeignKey(options *ForeignKeyOptions) *schema.FieldSpec {
	if options == nil {
		options = &ForeignKeyOptions{}
	}
	field := options.FieldName
	if field == "" {
		field = t.pk
	}

	t.resolveSchema()
	ref, ok := t.fields[field]
	if !ok {
		panic(&SchemaError{Table: t.name, Field: field, Reason: "foreign key references unknown field"})
	}

	if options.ManyToMany {
		return &schema.FieldSpec{Type: ref.Type, Required: true}
	}
	return &schema.FieldSpec{
		Type:    ref.Type,
		Default: func() any { return schema.Null },
	}
}

// Query 全表查询命令，过滤、删改的组合入口
func (t *Table) Query() *command.Command {
	return command.GetAll(t.name)
}

// Get 按主键取单条记录的命令
func (t *Table) Get(id any) *command.Command {
	return command.Get(t.name, id)
}

// Insert 插入记录的命令
func (t *Table) Insert(records ...driver.Record) *command.Command {
	return command.Insert(t.name, records...)
}

// Update 按主键合并补丁的命令，updatedAt 在执行时刻以执行器时钟写入
func (t *Table) Update(patch driver.Record, ids ...any) *command.Command {
	return command.Update(t.name, ids, patch, fieldUpdatedAt)
}

// Delete 按主键删除的命令
func (t *Table) Delete(ids ...any) *command.Command {
	return command.Delete(t.name, ids...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
