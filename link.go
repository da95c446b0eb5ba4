package relx

// Endpoint 外键边的一端，指向某张表的某个字段
type Endpoint struct {
	Table *Table
	Field string
}

// Link 有向外键边。
// Left 持有外键字段，Right 为被引用的表与字段（通常是主键）。
// Link 是纯值，不拥有任何一端的表。
type Link struct {
	Left  Endpoint
	Right Endpoint
}

// LinkTo 声明本表的 field 字段指向 other 表的主键
func (t *Table) LinkTo(other *Table, field string) Link {
	return Link{
		Left:  Endpoint{Table: t, Field: field},
		Right: Endpoint{Table: other, Field: other.pk},
	}
}

// LinkedBy 声明 other 表的 field 字段反向指向本表的主键
func (t *Table) LinkedBy(other *Table, field string) Link {
	return Link{
		Left:  Endpoint{Table: other, Field: field},
		Right: Endpoint{Table: t, Field: t.pk},
	}
}
