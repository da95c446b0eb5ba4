package driver

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrTableNotFound  = errors.New("table not found")
	ErrIndexNotFound  = errors.New("index not found")
)

// Record 一条文档记录，字段名到值的普通映射
type Record map[string]any

// Clone 返回记录的浅拷贝
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	result := make(Record, len(r))
	for k, v := range r {
		result[k] = v
	}
	return result
}

// TableSpec 表定义
type TableSpec struct {
	Name       string `cfg:"name" validate:"required"`
	PrimaryKey string `cfg:"primaryKey" def:"id"`
}

// IndexSpec 索引定义。
// Fields 多于一个字段时为组合索引，字段顺序有意义：
// 组合索引的前缀查询以第一个字段为键。
type IndexSpec struct {
	Name   string   `cfg:"name"`
	Fields []string `cfg:"fields"`
	Unique bool     `cfg:"unique"`
}

// Driver 文档存储驱动原语。
// 上层命令树只通过这些原语访问存储，驱动自身不理解表之间的关系。
type Driver interface {
	// EnsureTable 幂等地创建表
	EnsureTable(ctx context.Context, spec TableSpec) error
	// EnsureIndex 幂等地创建索引，表必须已通过 EnsureTable 注册
	EnsureIndex(ctx context.Context, table string, index IndexSpec) error
	// Get 按主键取单条记录，不存在时返回 ErrRecordNotFound
	Get(ctx context.Context, table string, id any) (Record, error)
	// Find 按字段等值条件过滤，多个条件为与，条件值为切片时表示集合成员匹配
	Find(ctx context.Context, table string, conds map[string]any) ([]Record, error)
	// FindByIndex 按命名索引的第一个字段做前缀查询
	FindByIndex(ctx context.Context, table string, index string, key any) ([]Record, error)
	// Insert 插入记录，唯一冲突时返回 ErrDuplicateKey
	Insert(ctx context.Context, table string, records []Record) error
	// Update 按主键列表合并补丁
	Update(ctx context.Context, table string, ids []any, patch Record) error
	// Delete 按主键列表删除
	Delete(ctx context.Context, table string, ids []any) error
	Close() error
}

// Match 判断记录是否满足全部等值条件，条件值为切片时做成员匹配
func Match(record Record, conds map[string]any) bool {
	for field, want := range conds {
		got := record[field]
		if !matchValue(got, want) {
			return false
		}
	}
	return true
}

func matchValue(got, want any) bool {
	rv := reflect.ValueOf(want)
	if want != nil && rv.Kind() == reflect.Slice {
		for i := 0; i < rv.Len(); i++ {
			if equalValue(got, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return equalValue(got, want)
}

// equalValue 值等价判断。
// 数值在序列化往返后具体类型可能改变（int 变 int64/int32 等），按数值比较。
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat64(a); ok {
		fb, ok := toFloat64(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
