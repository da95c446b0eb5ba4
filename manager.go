package relx

import (
	"github.com/hatlonely/relx/command"
	"github.com/hatlonely/relx/driver"
)

// relation 按名称查找本表的关联声明
func (t *Table) relation(name string) (*Relation, error) {
	if !t.registry.resolved {
		return nil, &RelationError{Table: t.name, Relation: name, Reason: "registry not resolved"}
	}
	relation, ok := t.relations[name]
	if !ok {
		return nil, &RelationError{Table: t.name, Relation: name, Reason: "relation not declared"}
	}
	return relation, nil
}

// Relations 本表声明的关联名，按字典序
func (t *Table) Relations() []string {
	return sortedKeys(t.relations)
}

// CreateRelation 建立关联的命令。
// HasOne/HasMany 把关联表上对应行的外键置为 ownerID；
// BelongsTo 把本表行的外键置为唯一的 relatedID；
// BelongsToMany 为每个 relatedID 插入一条中间表记录，记录在构建时即
// 应用默认值并校验。命令在执行前不触发任何 I/O。
func (t *Table) CreateRelation(name string, ownerID any, relatedIDs ...any) (*command.Command, error) {
	relation, err := t.relation(name)
	if err != nil {
		return nil, err
	}
	if len(relatedIDs) == 0 {
		return nil, &RelationError{Table: t.name, Relation: name, Reason: "at least one related id is required"}
	}

	switch relation.kind {
	case RelationHasOne, RelationHasMany:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		return command.Update(related.name, relatedIDs, driver.Record{fk: ownerID}, fieldUpdatedAt), nil

	case RelationBelongsTo:
		if len(relatedIDs) != 1 {
			return nil, &RelationError{Table: t.name, Relation: name, Reason: "belongs-to relation takes exactly one related id"}
		}
		fk := relation.link.Left.Field
		return command.Update(t.name, []any{ownerID}, driver.Record{fk: relatedIDs[0]}, fieldUpdatedAt), nil

	case RelationBelongsToMany:
		junction := relation.ownerLink.Left.Table
		ownerFK := relation.ownerLink.Left.Field
		relatedFK := relation.relatedLink.Left.Field
		rows := make([]driver.Record, 0, len(relatedIDs))
		for _, relatedID := range relatedIDs {
			row, err := junction.Create(driver.Record{ownerFK: ownerID, relatedFK: relatedID})
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return command.Insert(junction.name, rows...), nil
	}

	return nil, &RelationError{Table: t.name, Relation: name, Reason: "unknown relation kind"}
}

// RemoveRelation 解除关联的命令。
// HasOne/HasMany 把关联表上对应行的外键置空；BelongsTo 把本表行的外键
// 置空；BelongsToMany 删除 (ownerID, relatedID) 命中的中间表记录，
// 只移除给出的子集。
func (t *Table) RemoveRelation(name string, ownerID any, relatedIDs ...any) (*command.Command, error) {
	relation, err := t.relation(name)
	if err != nil {
		return nil, err
	}

	switch relation.kind {
	case RelationHasOne, RelationHasMany:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		if len(relatedIDs) == 0 {
			return nil, &RelationError{Table: t.name, Relation: name, Reason: "at least one related id is required"}
		}
		return command.Update(related.name, relatedIDs, driver.Record{fk: nil}, fieldUpdatedAt), nil

	case RelationBelongsTo:
		fk := relation.link.Left.Field
		return command.Update(t.name, []any{ownerID}, driver.Record{fk: nil}, fieldUpdatedAt), nil

	case RelationBelongsToMany:
		if len(relatedIDs) == 0 {
			return nil, &RelationError{Table: t.name, Relation: name, Reason: "at least one related id is required"}
		}
		junction := relation.ownerLink.Left.Table
		relatedFK := relation.relatedLink.Left.Field
		matched := command.Filter(
			command.IndexLookup(junction.name, relation.index, ownerID),
			map[string]any{relatedFK: relatedIDs},
		)
		return command.DeleteWhere(matched, junction.pk), nil
	}

	return nil, &RelationError{Table: t.name, Relation: name, Reason: "unknown relation kind"}
}

// HasRelation 判定关联是否存在的命令，结果为布尔。
// HasOne/HasMany 检查关联表上 relatedID 行的外键是否等于 ownerID；
// BelongsTo 检查本表 ownerID 行的外键是否等于 relatedID；
// BelongsToMany 经复合索引检查 (ownerID, relatedID) 的中间表记录是否存在。
func (t *Table) HasRelation(name string, ownerID any, relatedID any) (*command.Command, error) {
	relation, err := t.relation(name)
	if err != nil {
		return nil, err
	}

	switch relation.kind {
	case RelationHasOne, RelationHasMany:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		return command.Exists(command.Filter(
			related.Get(relatedID),
			map[string]any{fk: ownerID},
		)), nil

	case RelationBelongsTo:
		fk := relation.link.Left.Field
		return command.Exists(command.Filter(
			t.Get(ownerID),
			map[string]any{fk: relatedID},
		)), nil

	case RelationBelongsToMany:
		junction := relation.ownerLink.Left.Table
		relatedFK := relation.relatedLink.Left.Field
		return command.Exists(command.Filter(
			command.IndexLookup(junction.name, relation.index, ownerID),
			map[string]any{relatedFK: relatedID},
		)), nil
	}

	return nil, &RelationError{Table: t.name, Relation: name, Reason: "unknown relation kind"}
}

// GetRelated 取关联记录的命令。
// HasOne 与 BelongsTo 的结果是单条记录或 null；
// HasMany 与 BelongsToMany 的结果是有序序列，无关联时为空序列。
func (t *Table) GetRelated(name string, ownerID any) (*command.Command, error) {
	relation, err := t.relation(name)
	if err != nil {
		return nil, err
	}

	switch relation.kind {
	case RelationHasOne:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		return command.First(command.Filter(related.Query(), map[string]any{fk: ownerID})), nil

	case RelationHasMany:
		related := relation.link.Left.Table
		fk := relation.link.Left.Field
		return command.Filter(related.Query(), map[string]any{fk: ownerID}), nil

	case RelationBelongsTo:
		fk := relation.link.Left.Field
		related := relation.link.Right.Table
		return command.First(command.Via(t.Get(ownerID), fk, related.name)), nil

	case RelationBelongsToMany:
		junction := relation.ownerLink.Left.Table
		relatedFK := relation.relatedLink.Left.Field
		related := relation.relatedLink.Right.Table
		return command.Via(
			command.IndexLookup(junction.name, relation.index, ownerID),
			relatedFK,
			related.name,
		), nil
	}

	return nil, &RelationError{Table: t.name, Relation: name, Reason: "unknown relation kind"}
}
