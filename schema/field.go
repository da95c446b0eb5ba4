package schema

// FieldType 字段类型
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInt      FieldType = "int"
	FieldTypeFloat    FieldType = "float"
	FieldTypeBool     FieldType = "bool"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeJSON     FieldType = "json"
)

// nullValue 显式空值默认的内部标记类型
type nullValue struct{}

// Null 显式空值默认标记。
// Default 闭包返回 Null 时，字段在应用默认值后以显式 null 写入记录，
// 区别于返回 nil（不写入任何默认值，字段保持缺省）。
var Null = nullValue{}

// FieldSpec 字段描述符，承载校验规则与元信息。
// Default 为闭包，时间戳、主键等默认值在应用时求值而非声明时求值。
type FieldSpec struct {
	// 字段类型，为空时不做类型检查
	Type FieldType
	// 是否必填，必填字段缺失或为 null 时校验失败
	Required bool
	// 默认值闭包，返回 nil 表示无默认值，返回 Null 表示默认为显式 null
	Default func() any
	// validator 规则表达式，如 "email"、"min=1"、"oneof=a b"
	Rule string
	// 是否建立单字段索引
	Index bool
	// 是否唯一
	Unique bool
	// 是否主键
	PrimaryKey bool
}
