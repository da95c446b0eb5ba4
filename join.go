package relx

import (
	"github.com/hatlonely/relx/command"
	"github.com/hatlonely/relx/driver"
)

// JoinRequest 关联请求。键为本表上声明的关联名，值为 true 表示嵌入该
// 关联，值为嵌套的 JoinRequest 表示在关联表上继续递归嵌入。
type JoinRequest map[string]any

// WithJoin 在基础命令上按关联请求逐层追加子取数与嵌入步骤。
// 每个请求的关联在结果行上占据一个以关联名命名的字段：
// HasOne/BelongsTo 嵌入单条记录，无关联时为显式 null（嵌套请求在 null
// 父级下同样解析为 null，不展开也不报错）；HasMany/BelongsToMany 嵌入
// 有序序列，无关联时为空序列。未声明的关联名返回 RelationError。
// 返回的命令仍然是惰性描述，不触发任何 I/O。
func (t *Table) WithJoin(cmd *command.Command, request JoinRequest) (*command.Command, error) {
	merges, err := t.joinMerges(request)
	if err != nil {
		return nil, err
	}
	return command.Merge(cmd, merges...), nil
}

// joinMerges 把关联请求编译成嵌入描述，关联名按字典序处理保证确定性。
// 嵌套请求在编译期递归展开，执行期只剩结构化的命令构建。
func (t *Table) joinMerges(request JoinRequest) ([]command.MergeSpec, error) {
	var merges []command.MergeSpec

	for _, name := range sortedKeys(request) {
		relation, err := t.relation(name)
		if err != nil {
			return nil, err
		}

		var nested []command.MergeSpec
		switch sub := request[name].(type) {
		case JoinRequest:
			nested, err = relation.relatedTable().joinMerges(sub)
		case map[string]any:
			nested, err = relation.relatedTable().joinMerges(JoinRequest(sub))
		}
		if err != nil {
			return nil, err
		}

		merges = append(merges, buildMergeSpec(name, relation, nested))
	}

	return merges, nil
}

// relatedTable 关联指向的目标表
func (r *Relation) relatedTable() *Table {
	switch r.kind {
	case RelationHasOne, RelationHasMany:
		return r.link.Left.Table
	case RelationBelongsTo:
		return r.link.Right.Table
	case RelationBelongsToMany:
		return r.relatedLink.Right.Table
	}
	return nil
}

// buildMergeSpec 按关联类型构建单个嵌入描述
func buildMergeSpec(name string, relation *Relation, nested []command.MergeSpec) command.MergeSpec {
	switch relation.kind {
	case RelationHasOne:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		ownerField := relation.link.Right.Field
		return command.MergeSpec{Field: name, Mode: command.MergeOne, Build: func(parent driver.Record) *command.Command {
			value := parent[ownerField]
			if value == nil {
				return nil
			}
			sub := command.First(command.Filter(related.Query(), map[string]any{fk: value}))
			return command.Merge(sub, nested...)
		}}

	case RelationBelongsTo:
		fk := relation.link.Left.Field
		related := relation.link.Right.Table
		targetField := relation.link.Right.Field
		return command.MergeSpec{Field: name, Mode: command.MergeOne, Build: func(parent driver.Record) *command.Command {
			value := parent[fk]
			if value == nil {
				return nil
			}
			var sub *command.Command
			if targetField == related.pk {
				sub = related.Get(value)
			} else {
				sub = command.First(command.Filter(related.Query(), map[string]any{targetField: value}))
			}
			return command.Merge(sub, nested...)
		}}

	case RelationHasMany:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		ownerField := relation.link.Right.Field
		return command.MergeSpec{Field: name, Mode: command.MergeMany, Build: func(parent driver.Record) *command.Command {
			value := parent[ownerField]
			if value == nil {
				return nil
			}
			sub := command.Filter(related.Query(), map[string]any{fk: value})
			return command.Merge(sub, nested...)
		}}

	case RelationBelongsToMany:
		junction := relation.ownerLink.Left.Table
		ownerField := relation.ownerLink.Right.Field
		relatedFK := relation.relatedLink.Left.Field
		related := relation.relatedLink.Right.Table
		index := relation.index
		return command.MergeSpec{Field: name, Mode: command.MergeMany, Build: func(parent driver.Record) *command.Command {
			value := parent[ownerField]
			if value == nil {
				return nil
			}
			sub := command.Via(command.IndexLookup(junction.name, index, value), relatedFK, related.name)
			return command.Merge(sub, nested...)
		}}
	}

	// validate 已拒绝未知类型，这里不可达
	return command.MergeSpec{}
}
