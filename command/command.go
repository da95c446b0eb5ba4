package command

import (
	"github.com/hatlonely/relx/driver"
)

// Kind 命令节点类型
type Kind int

const (
	KindGet Kind = iota + 1
	KindGetAll
	KindFilter
	KindIndexLookup
	KindVia
	KindFirst
	KindExists
	KindInsert
	KindUpdate
	KindDelete
	KindMerge
	KindEnsureTable
	KindEnsureIndex
)

// MergeMode 关联嵌入模式
type MergeMode int

const (
	// MergeOne 0..1 关联，无关联时嵌入显式 null
	MergeOne MergeMode = iota + 1
	// MergeMany 0..N 关联，无关联时嵌入空序列
	MergeMany
)

// MergeSpec 单个关联的嵌入描述。
// Build 以父记录为输入构建子查询，返回 nil 表示不取数，
// 直接按 Mode 嵌入零值（null 或空序列），嵌套关联不再展开。
type MergeSpec struct {
	Field string
	Mode  MergeMode
	Build func(parent driver.Record) *Command
}

// Command 惰性命令树节点。
// 构建命令不产生任何 I/O，节点不可变，可以安全地并发构建与复用；
// 只有交给 Executor 执行时才访问存储。
type Command struct {
	kind  Kind
	table string

	id    any
	ids   []any
	conds map[string]any

	index string
	key   any

	pluck  string
	target string

	rows  []driver.Record
	patch driver.Record
	touch string
	pk    string

	base   *Command
	merges []MergeSpec

	tableSpec driver.TableSpec
	indexSpec driver.IndexSpec
}

// Kind 节点类型
func (c *Command) Kind() Kind {
	return c.kind
}

// Table 节点作用的表名
func (c *Command) Table() string {
	return c.table
}

// Base 上游节点，没有时为 nil
func (c *Command) Base() *Command {
	return c.base
}

// Get 按主键取单条记录
func Get(table string, id any) *Command {
	return &Command{kind: KindGet, table: table, id: id}
}

// GetAll 取表内全部记录
func GetAll(table string) *Command {
	return &Command{kind: KindGetAll, table: table}
}

// Filter 在上游结果上追加字段等值过滤，条件值为切片时表示集合成员匹配
func Filter(base *Command, conds map[string]any) *Command {
	return &Command{kind: KindFilter, table: base.table, base: base, conds: conds}
}

// IndexLookup 按命名索引的第一个字段查询
func IndexLookup(table string, index string, key any) *Command {
	return &Command{kind: KindIndexLookup, table: table, index: index, key: key}
}

// Via 对上游每条记录取 pluck 字段值，再按该值从 target 表取记录。
// 字段值为 null 或目标记录不存在时跳过，用于中间表到目标表的二段取数。
func Via(base *Command, pluck string, target string) *Command {
	return &Command{kind: KindVia, table: target, base: base, pluck: pluck, target: target}
}

// First 取上游结果的第一条，结果可能为空
func First(base *Command) *Command {
	return &Command{kind: KindFirst, table: base.table, base: base}
}

// Exists 上游结果是否非空
func Exists(base *Command) *Command {
	return &Command{kind: KindExists, table: base.table, base: base}
}

// Insert 插入记录
func Insert(table string, rows ...driver.Record) *Command {
	return &Command{kind: KindInsert, table: table, rows: rows}
}

// Update 按主键列表合并补丁。
// touch 非空时在执行时刻以执行器时钟写入该字段。
func Update(table string, ids []any, patch driver.Record, touch string) *Command {
	return &Command{kind: KindUpdate, table: table, ids: ids, patch: patch, touch: touch}
}

// UpdateWhere 对上游结果中的记录合并补丁，pk 为上游记录的主键字段
func UpdateWhere(base *Command, pk string, patch driver.Record, touch string) *Command {
	return &Command{kind: KindUpdate, table: base.table, base: base, pk: pk, patch: patch, touch: touch}
}

// Delete 按主键列表删除
func Delete(table string, ids ...any) *Command {
	return &Command{kind: KindDelete, table: table, ids: ids}
}

// DeleteWhere 删除上游结果中的记录，pk 为上游记录的主键字段
func DeleteWhere(base *Command, pk string) *Command {
	return &Command{kind: KindDelete, table: base.table, base: base, pk: pk}
}

// Merge 在上游每条记录上嵌入关联结果，每个 MergeSpec 占据一个以关联名命名的字段
func Merge(base *Command, merges ...MergeSpec) *Command {
	if len(merges) == 0 {
		return base
	}
	return &Command{kind: KindMerge, table: base.table, base: base, merges: merges}
}

// EnsureTable 幂等建表
func EnsureTable(spec driver.TableSpec) *Command {
	return &Command{kind: KindEnsureTable, table: spec.Name, tableSpec: spec}
}

// EnsureIndex 幂等建索引
func EnsureIndex(table string, spec driver.IndexSpec) *Command {
	return &Command{kind: KindEnsureIndex, table: table, indexSpec: spec}
}
