package relx

import (
	"fmt"
	"strings"
)

// SchemaError 表结构错误：引用了不存在的字段、未注册的表或解析循环
type SchemaError struct {
	Table  string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error on table [%s] field [%s]: %s", e.Table, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema error on table [%s]: %s", e.Table, e.Reason)
}

// ValidationError 记录校验失败，Fields 为全部未通过的字段名
type ValidationError struct {
	Table  string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on table [%s], fields [%s]", e.Table, strings.Join(e.Fields, ", "))
}

// RelationError 关联错误：关联未声明或关联操作参数非法
type RelationError struct {
	Table    string
	Relation string
	Reason   string
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("relation error on table [%s] relation [%s]: %s", e.Table, e.Relation, e.Reason)
}

// SyncError 建表建索引阶段的驱动错误
type SyncError struct {
	Table string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync table [%s] failed: %v", e.Table, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
