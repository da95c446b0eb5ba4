package relx

// RelationKind 关联类型
type RelationKind int

const (
	// RelationHasOne 关联表持有指向本表的外键，基数 0..1
	RelationHasOne RelationKind = iota + 1
	// RelationBelongsTo 本表持有指向关联表的外键，基数 0..1
	RelationBelongsTo
	// RelationHasMany 关联表持有指向本表的外键，基数 0..N
	RelationHasMany
	// RelationBelongsToMany 经由中间表的多对多，基数 0..N
	RelationBelongsToMany
)

// Relation 命名关联描述符。
// HasOne/BelongsTo/HasMany 携带单条 Link；
// BelongsToMany 携带两条 Link 与中间表上的复合索引名，
// 两条 Link 的 Left 端都落在中间表上（中间表持有两个外键）。
type Relation struct {
	kind RelationKind

	link Link

	ownerLink   Link
	relatedLink Link
	index       string
}

// HasOne 关联表持有外键：link.Left 为关联表的外键字段，link.Right 为本表
func HasOne(link Link) *Relation {
	return &Relation{kind: RelationHasOne, link: link}
}

// BelongsTo 本表持有外键：link.Left 为本表的外键字段，link.Right 为关联表
func BelongsTo(link Link) *Relation {
	return &Relation{kind: RelationBelongsTo, link: link}
}

// HasMany 与 HasOne 结构相同，基数 0..N
func HasMany(link Link) *Relation {
	return &Relation{kind: RelationHasMany, link: link}
}

// BelongsToMany 经由中间表的多对多关联。
// ownerLink.Left 为中间表上指向本表的外键，relatedLink.Left 为中间表上指向
// 关联表的外键，index 为中间表上按 (本表外键, 关联表外键) 顺序声明的复合索引名。
// 自引用多对多通过在同一中间表上交换两个外键角色声明两个关联实现。
func BelongsToMany(ownerLink Link, relatedLink Link, index string) *Relation {
	return &Relation{
		kind:        RelationBelongsToMany,
		ownerLink:   ownerLink,
		relatedLink: relatedLink,
		index:       index,
	}
}

// Kind 关联类型
func (r *Relation) Kind() RelationKind {
	return r.kind
}

// validate 在注册表解析阶段检查关联的结构约束
func (r *Relation) validate(owner *Table, name string) error {
	checkField := func(ep Endpoint) error {
		if ep.Table == nil {
			return &RelationError{Table: owner.name, Relation: name, Reason: "link endpoint table is nil"}
		}
		if !ep.Table.HasField(ep.Field) {
			return &SchemaError{Table: ep.Table.name, Field: ep.Field, Reason: "field referenced by relation [" + name + "] not found"}
		}
		return nil
	}

	switch r.kind {
	case RelationHasOne, RelationHasMany:
		if err := checkField(r.link.Left); err != nil {
			return err
		}
		if err := checkField(r.link.Right); err != nil {
			return err
		}
		if r.link.Right.Table != owner {
			return &RelationError{Table: owner.name, Relation: name, Reason: "link right endpoint must be the owning table"}
		}
	case RelationBelongsTo:
		if err := checkField(r.link.Left); err != nil {
			return err
		}
		if err := checkField(r.link.Right); err != nil {
			return err
		}
		if r.link.Left.Table != owner {
			return &RelationError{Table: owner.name, Relation: name, Reason: "link left endpoint must be the owning table"}
		}
	case RelationBelongsToMany:
		for _, ep := range []Endpoint{r.ownerLink.Left, r.ownerLink.Right, r.relatedLink.Left, r.relatedLink.Right} {
			if err := checkField(ep); err != nil {
				return err
			}
		}
		if r.ownerLink.Right.Table != owner {
			return &RelationError{Table: owner.name, Relation: name, Reason: "owner link right endpoint must be the owning table"}
		}
		junction := r.ownerLink.Left.Table
		if r.relatedLink.Left.Table != junction {
			return &RelationError{Table: owner.name, Relation: name, Reason: "both link left endpoints must be on the same junction table"}
		}
		// 复合索引顺序必须严格为 (本表外键, 关联表外键)，查找方向才成立
		fields, ok := junction.indexes[r.index]
		if !ok {
			return &RelationError{Table: owner.name, Relation: name, Reason: "compound index [" + r.index + "] not declared on junction table [" + junction.name + "]"}
		}
		if len(fields) < 2 || fields[0] != r.ownerLink.Left.Field || fields[1] != r.relatedLink.Left.Field {
			return &RelationError{
				Table:    owner.name,
				Relation: name,
				Reason:   "compound index [" + r.index + "] field order must be (" + r.ownerLink.Left.Field + ", " + r.relatedLink.Left.Field + ")",
			}
		}
	default:
		return &RelationError{Table: owner.name, Relation: name, Reason: "unknown relation kind"}
	}

	return nil
}
