// Package statement binds parsed SQL into the statement context consumed by
// condition extraction, routing and merging.
package statement

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrParse sql解析失败
	ErrParse = errors.New("parse sql failed")
	// ErrParamIndex 参数下标越界
	ErrParamIndex = errors.New("parameter index out of range")
	// ErrOpaqueValue 值不是字面量或参数
	ErrOpaqueValue = errors.New("value is not a literal or parameter")
)

// Category 语句分类, 绑定时计算一次
type Category int

const (
	Unknown Category = iota
	Select
	Insert
	Update
	Delete
	DDL
	DCL
	DatabaseDDL
	DALBroadcast
	DALUnicast
	TCL
)

var categoryNames = [...]string{"UNKNOWN", "SELECT", "INSERT", "UPDATE", "DELETE", "DDL", "DCL", "DATABASE_DDL", "DAL_BROADCAST", "DAL_UNICAST", "TCL"}

func (c Category) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "CATEGORY(" + strconv.Itoa(int(c)) + ")"
}

// IsDML reports whether the category reads or writes rows.
func (c Category) IsDML() bool {
	return c == Select || c == Insert || c == Update || c == Delete
}

// IsWrite reports whether the statement must go to a primary.
func (c Category) IsWrite() bool {
	return c != Select && c != DALUnicast && c != DALBroadcast
}

// ShowKind SHOW语句类型
type ShowKind int

const (
	ShowNone ShowKind = iota
	ShowDatabases
	ShowTables
	ShowCreateTable
	ShowOther
)

// TableRef 语句中引用的表
type TableRef struct {
	Name  string
	Alias string
}

// Value is a literal or a positional parameter.
type Value struct {
	Literal any
	// Param is the 1-based position of a ? marker, 0 for literals.
	Param  int
	Opaque bool
}

// Resolve returns the literal or the bound parameter.
func (v Value) Resolve(params []any) (any, error) {
	switch {
	case v.Opaque:
		return nil, ErrOpaqueValue
	case v.Param > 0:
		if v.Param > len(params) {
			return nil, errors.Wrapf(ErrParamIndex, "parameter %d of %d", v.Param, len(params))
		}
		return params[v.Param-1], nil
	}
	return v.Literal, nil
}

// Column 列引用; Name is lowercase. In HAVING, Name is the label of the
// projection the operand resolves to.
type Column struct {
	Qualifier string
	Name      string
}

// Expr 谓词树
type Expr interface {
	expr()
}

type (
	AndExpr struct{ Left, Right Expr }
	OrExpr  struct{ Left, Right Expr }
	NotExpr struct{ Expr Expr }
	// CompareExpr is column <op> value with the column on the left.
	CompareExpr struct {
		Column   Column
		Operator string
		Value    Value
	}
	InExpr struct {
		Column Column
		Values []Value
		Not    bool
	}
	BetweenExpr struct {
		Column   Column
		From, To Value
		Not      bool
	}
	// OpaqueExpr is any predicate routing cannot use.
	OpaqueExpr struct{ SQL string }
)

func (*AndExpr) expr()     {}
func (*OrExpr) expr()      {}
func (*NotExpr) expr()     {}
func (*CompareExpr) expr() {}
func (*InExpr) expr()      {}
func (*BetweenExpr) expr() {}
func (*OpaqueExpr) expr()  {}

// Aggregation 聚合函数
type Aggregation int

const (
	AggNone Aggregation = iota
	AggCount
	AggSum
	AggMax
	AggMin
	AggAvg
)

func parseAggregation(name string) Aggregation {
	switch strings.ToLower(name) {
	case "count":
		return AggCount
	case "sum":
		return AggSum
	case "max":
		return AggMax
	case "min":
		return AggMin
	case "avg":
		return AggAvg
	}
	return AggNone
}

func (a Aggregation) String() string {
	return [...]string{"", "COUNT", "SUM", "MAX", "MIN", "AVG"}[a]
}

// Projection 查询列
type Projection struct {
	// Label is the result column name: the alias, the bare column name or
	// the formatted expression.
	Label string
	// Expr is the formatted expression.
	Expr string
	// Column is the lowercase column name when the projection is a column.
	Column      string
	Aggregation Aggregation
	Distinct    bool
	Derived     bool
	// AvgCount and AvgSum label the derived COUNT/SUM columns of an AVG.
	AvgCount string
	AvgSum   string
}

// OrderItem ORDER BY / GROUP BY项; Label names the result column.
type OrderItem struct {
	Label      string
	Desc       bool
	NullsFirst bool
}

// Limit 分页
type Limit struct {
	Offset   *Value
	RowCount *Value
}

// Context 语句上下文. Parsed contexts are shared through the parser cache and
// must not be modified; Bind returns a copy carrying parameters.
type Context struct {
	SQL      string
	Category Category
	Show     ShowKind
	Tables   []TableRef
	Where    Expr

	InsertColumns []string
	InsertRows    [][]Value

	Projections []Projection
	Star        bool
	Distinct    bool
	GroupBy     []OrderItem
	OrderBy     []OrderItem
	Having      Expr
	Limit       *Limit
	// DerivedColumns is the number of trailing projections added for merging.
	DerivedColumns int

	Params []any

	// formatted sql: as written and with derived columns for merging
	plain   string
	derived string
}

// Bind returns a copy of the context carrying params.
func (c *Context) Bind(params []any) *Context {
	cp := *c
	cp.Params = params
	return &cp
}

// TableNames returns the referenced tables in order of appearance, deduplicated.
func (c *Context) TableNames() []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range c.Tables {
		if k := strings.ToLower(t.Name); !seen[k] {
			seen[k] = true
			out = append(out, t.Name)
		}
	}
	return out
}

// Aliases returns the lowercase names and aliases a table is referenced by.
func (c *Context) Aliases(table string) []string {
	var out []string
	for _, t := range c.Tables {
		if strings.EqualFold(t.Name, table) {
			out = append(out, strings.ToLower(t.Name))
			if t.Alias != "" {
				out = append(out, strings.ToLower(t.Alias))
			}
		}
	}
	return out
}

// HasAggregation reports whether any projection aggregates.
func (c *Context) HasAggregation() bool {
	for _, p := range c.Projections {
		if p.Aggregation != AggNone {
			return true
		}
	}
	return false
}

// IsGrouped reports whether merging needs the group-by memory merger.
func (c *Context) IsGrouped() bool {
	return len(c.GroupBy) > 0 || c.HasAggregation() || c.Distinct
}

// Pagination resolves OFFSET and LIMIT. rowCount is -1 when unlimited.
func (c *Context) Pagination() (offset, rowCount int64, err error) {
	rowCount = -1
	if c.Limit == nil {
		return 0, rowCount, nil
	}
	if c.Limit.Offset != nil {
		if offset, err = c.resolveInt(*c.Limit.Offset); err != nil {
			return 0, 0, err
		}
	}
	if c.Limit.RowCount != nil {
		if rowCount, err = c.resolveInt(*c.Limit.RowCount); err != nil {
			return 0, 0, err
		}
	}
	return offset, rowCount, nil
}

func (c *Context) resolveInt(v Value) (int64, error) {
	raw, err := v.Resolve(c.Params)
	if err != nil {
		return 0, err
	}
	switch x := raw.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, errors.Errorf("limit value %T(%v) is not an integer", raw, raw)
}
