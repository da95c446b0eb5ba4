package schema

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Metadata 字段元信息
type Metadata struct {
	Index      bool
	Unique     bool
	PrimaryKey bool
}

// Validator 字段校验能力封装
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate 校验字段值是否符合描述符，只返回布尔结果，从不报错。
// nil 值仅在字段非必填时通过。
func (v *Validator) Validate(spec *FieldSpec, value any) bool {
	if spec == nil {
		return true
	}
	if value == nil {
		return !spec.Required
	}
	if !matchType(spec.Type, value) {
		return false
	}
	if spec.Rule != "" {
		if err := v.validate.Var(value, spec.Rule); err != nil {
			return false
		}
	}
	return true
}

// ApplyDefault 求值字段默认值，无默认值时返回 nil
func (v *Validator) ApplyDefault(spec *FieldSpec) any {
	if spec == nil || spec.Default == nil {
		return nil
	}
	return spec.Default()
}

// IsRequired 字段是否必填
func (v *Validator) IsRequired(spec *FieldSpec) bool {
	return spec != nil && spec.Required
}

// Metadata 返回字段的索引、唯一、主键标记
func (v *Validator) Metadata(spec *FieldSpec) Metadata {
	if spec == nil {
		return Metadata{}
	}
	return Metadata{
		Index:      spec.Index,
		Unique:     spec.Unique,
		PrimaryKey: spec.PrimaryKey,
	}
}

// matchType 宽松的动态类型检查，数值类型之间允许常见的扩展
func matchType(t FieldType, value any) bool {
	switch t {
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case FieldTypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case FieldTypeBool:
		_, ok := value.(bool)
		return ok
	case FieldTypeDatetime:
		_, ok := value.(time.Time)
		return ok
	case FieldTypeJSON:
		return true
	case "":
		return true
	}
	return false
}
