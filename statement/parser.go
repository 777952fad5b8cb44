package statement

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

// Parser 解析sql并缓存语句上下文
type Parser struct {
	cache *lru.Cache
}

// NewParser returns a parser caching up to cacheSize statements; a size of
// zero or less disables the cache.
func NewParser(cacheSize int) (*Parser, error) {
	p := &Parser{}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "statement cache")
		}
		p.cache = cache
	}
	return p, nil
}

// Parse binds sql into a shared, read-only context.
func (p *Parser) Parse(sql string) (*Context, error) {
	if p != nil && p.cache != nil {
		if v, ok := p.cache.Get(sql); ok {
			return v.(*Context), nil
		}
	}
	c, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if p != nil && p.cache != nil {
		p.cache.Add(sql, c)
	}
	return c, nil
}

// Parse binds sql without caching.
func Parse(sql string) (*Context, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "%v: %s", err, sql)
	}
	b := &binder{c: &Context{SQL: sql, plain: sql, derived: sql}}
	b.bind(stmt)
	return b.c, nil
}

var (
	// SHOW CREATE TABLE / SHOW INDEX FROM 等语句中的表名
	showTableRe   = regexp.MustCompile("(?i)\\b(?:table|from|in|describe|desc)\\s+`?([\\w$]+)`?")
	showWithTable = map[string]bool{"create table": true, "index": true, "keys": true, "columns": true, "fields": true}
)

type binder struct {
	c *Context
	// exprs parallels c.Projections
	exprs   []sqlparser.Expr
	derived sqlparser.SelectExprs
}

func (b *binder) bind(stmt sqlparser.Statement) {
	c := b.c
	switch node := stmt.(type) {
	case *sqlparser.Select:
		c.Category = Select
		c.Tables = collectTables(node)
		if node.Where != nil {
			c.Where = b.convert(node.Where.Expr, whereOperand)
		}
		b.bindSelect(node)
	case *sqlparser.Union, *sqlparser.ParenSelect:
		c.Category = Select
		c.Tables = collectTables(node)
		c.Star = true
		c.plain = sqlparser.String(node)
		c.derived = c.plain
	case *sqlparser.Insert:
		c.Category = Insert
		c.Tables = []TableRef{{Name: node.Table.Name.String()}}
		for _, col := range node.Columns {
			c.InsertColumns = append(c.InsertColumns, col.Lowered())
		}
		switch rows := node.Rows.(type) {
		case sqlparser.Values:
			for _, tuple := range rows {
				row := make([]Value, len(tuple))
				for i, e := range tuple {
					row[i], _ = toValue(e)
				}
				c.InsertRows = append(c.InsertRows, row)
			}
		case sqlparser.SelectStatement:
			c.Tables = append(c.Tables, collectTables(rows)...)
		}
		c.plain = sqlparser.String(node)
	case *sqlparser.Update:
		c.Category = Update
		c.Tables = collectTables(node.TableExprs)
		if node.Where != nil {
			c.Where = b.convert(node.Where.Expr, whereOperand)
		}
		c.plain = sqlparser.String(node)
	case *sqlparser.Delete:
		c.Category = Delete
		c.Tables = collectTables(node.TableExprs)
		if node.Where != nil {
			c.Where = b.convert(node.Where.Expr, whereOperand)
		}
		c.plain = sqlparser.String(node)
	case *sqlparser.DDL:
		// ddl语句可能只解析了一部分, 改写时使用原sql
		c.Category = DDL
		if !node.Table.IsEmpty() {
			c.Tables = []TableRef{{Name: node.Table.Name.String()}}
		}
	case *sqlparser.DBDDL:
		c.Category = DatabaseDDL
	case *sqlparser.Show:
		b.bindShow(node)
	case *sqlparser.OtherRead:
		c.Category = DALUnicast
		c.Show = ShowOther
		if m := showTableRe.FindStringSubmatch(c.SQL); m != nil {
			c.Tables = []TableRef{{Name: m[1]}}
		}
	case *sqlparser.Set, *sqlparser.Use, *sqlparser.OtherAdmin:
		c.Category = DCL
	case *sqlparser.Begin, *sqlparser.Commit, *sqlparser.Rollback:
		c.Category = TCL
	default:
		c.Category = Unknown
	}
}

func (b *binder) bindShow(node *sqlparser.Show) {
	c := b.c
	typ := strings.ToLower(node.Type)
	switch {
	case typ == "databases" || typ == "schemas":
		c.Category, c.Show = DALUnicast, ShowDatabases
	case typ == "tables":
		c.Category, c.Show = DALBroadcast, ShowTables
	case typ == "create table":
		c.Category, c.Show = DALUnicast, ShowCreateTable
	default:
		c.Category, c.Show = DALUnicast, ShowOther
	}
	if showWithTable[typ] {
		if m := showTableRe.FindStringSubmatch(c.SQL); m != nil {
			c.Tables = []TableRef{{Name: m[1]}}
		}
	}
}

func (b *binder) bindSelect(node *sqlparser.Select) {
	c := b.c
	c.Distinct = node.Distinct != ""
	for _, se := range node.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			c.Star = true
		case *sqlparser.AliasedExpr:
			c.Projections = append(c.Projections, newProjection(e.Expr, e.As.String()))
			b.exprs = append(b.exprs, e.Expr)
		}
	}
	for _, e := range node.GroupBy {
		c.GroupBy = append(c.GroupBy, OrderItem{Label: b.resolve(e, "GROUP_BY_DERIVED"), NullsFirst: true})
	}
	for _, o := range node.OrderBy {
		desc := o.Direction == sqlparser.DescScr
		c.OrderBy = append(c.OrderBy, OrderItem{Label: b.resolve(o.Expr, "ORDER_BY_DERIVED"), Desc: desc, NullsFirst: !desc})
	}
	if node.Having != nil {
		c.Having = b.convert(node.Having.Expr, b.havingOperand)
	}
	c.Limit = bindLimit(node.Limit)

	// AVG拆分为COUNT与SUM
	for i := range c.Projections {
		p := &c.Projections[i]
		if p.Aggregation != AggAvg {
			continue
		}
		f, ok := b.exprs[i].(*sqlparser.FuncExpr)
		if !ok {
			continue
		}
		p.AvgCount = fmt.Sprintf("AVG_DERIVED_COUNT_%d", i)
		p.AvgSum = fmt.Sprintf("AVG_DERIVED_SUM_%d", i)
		b.add(&sqlparser.FuncExpr{Name: sqlparser.NewColIdent("count"), Distinct: f.Distinct, Exprs: f.Exprs}, p.AvgCount)
		b.add(&sqlparser.FuncExpr{Name: sqlparser.NewColIdent("sum"), Distinct: f.Distinct, Exprs: f.Exprs}, p.AvgSum)
	}

	c.plain = sqlparser.String(node)
	if len(b.derived) > 0 || node.Having != nil {
		node.SelectExprs = append(node.SelectExprs, b.derived...)
		if c.IsGrouped() {
			node.Having = nil
		}
		c.DerivedColumns = len(b.derived)
	}
	c.derived = sqlparser.String(node)
}

func newProjection(e sqlparser.Expr, alias string) Projection {
	p := Projection{Label: alias, Expr: sqlparser.String(e)}
	switch x := e.(type) {
	case *sqlparser.ColName:
		p.Column = x.Name.Lowered()
		if p.Label == "" {
			p.Label = x.Name.String()
		}
	case *sqlparser.FuncExpr:
		if x.Qualifier.IsEmpty() {
			p.Aggregation = parseAggregation(x.Name.Lowered())
			p.Distinct = x.Distinct
		}
	}
	if p.Label == "" {
		p.Label = p.Expr
	}
	return p
}

// resolve returns the label of the result column holding e, adding a derived
// column when the select list does not already contain it.
func (b *binder) resolve(e sqlparser.Expr, prefix string) string {
	c := b.c
	switch x := e.(type) {
	case *sqlparser.ColName:
		name := x.Name.Lowered()
		for _, p := range c.Projections {
			if strings.EqualFold(p.Label, name) || p.Column == name {
				return p.Label
			}
		}
		if c.Star {
			return x.Name.String()
		}
	case *sqlparser.SQLVal:
		// ORDER BY 1
		if x.Type == sqlparser.IntVal && !c.Star {
			if n, err := strconv.Atoi(string(x.Val)); err == nil && n >= 1 && n <= len(c.Projections) {
				return c.Projections[n-1].Label
			}
		}
	default:
		s := sqlparser.String(e)
		for _, p := range c.Projections {
			if strings.EqualFold(p.Expr, s) || strings.EqualFold(p.Label, s) {
				return p.Label
			}
		}
	}
	return b.add(e, fmt.Sprintf("%s_%d", prefix, len(b.derived)))
}

func (b *binder) add(e sqlparser.Expr, alias string) string {
	p := newProjection(e, alias)
	p.Derived = true
	b.c.Projections = append(b.c.Projections, p)
	b.exprs = append(b.exprs, e)
	b.derived = append(b.derived, &sqlparser.AliasedExpr{Expr: e, As: sqlparser.NewColIdent(alias)})
	return alias
}

func bindLimit(l *sqlparser.Limit) *Limit {
	if l == nil {
		return nil
	}
	out := &Limit{}
	if l.Offset != nil {
		v, _ := toValue(l.Offset)
		out.Offset = &v
	}
	if l.Rowcount != nil {
		v, _ := toValue(l.Rowcount)
		out.RowCount = &v
	}
	return out
}

func collectTables(nodes ...sqlparser.SQLNode) []TableRef {
	var refs []TableRef
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if t, ok := node.(*sqlparser.AliasedTableExpr); ok {
			if tn, ok := t.Expr.(sqlparser.TableName); ok && !tn.IsEmpty() {
				refs = append(refs, TableRef{Name: tn.Name.String(), Alias: t.As.String()})
			}
		}
		return true, nil
	}, nodes...)
	return refs
}

type operandFunc func(sqlparser.Expr) (Column, bool)

func whereOperand(e sqlparser.Expr) (Column, bool) {
	col, ok := e.(*sqlparser.ColName)
	if !ok {
		return Column{}, false
	}
	return Column{Qualifier: strings.ToLower(col.Qualifier.Name.String()), Name: col.Name.Lowered()}, true
}

// havingOperand resolves an aggregate or column to its result label.
func (b *binder) havingOperand(e sqlparser.Expr) (Column, bool) {
	switch e.(type) {
	case *sqlparser.ColName, *sqlparser.FuncExpr:
		return Column{Name: b.resolve(e, "HAVING_DERIVED")}, true
	}
	return Column{}, false
}

var flipped = map[string]string{"=": "=", "!=": "!=", "<": ">", ">": "<", "<=": ">=", ">=": "<="}

func (b *binder) convert(e sqlparser.Expr, operand operandFunc) Expr {
	switch n := e.(type) {
	case *sqlparser.AndExpr:
		return &AndExpr{Left: b.convert(n.Left, operand), Right: b.convert(n.Right, operand)}
	case *sqlparser.OrExpr:
		return &OrExpr{Left: b.convert(n.Left, operand), Right: b.convert(n.Right, operand)}
	case *sqlparser.NotExpr:
		return &NotExpr{Expr: b.convert(n.Expr, operand)}
	case *sqlparser.ParenExpr:
		return b.convert(n.Expr, operand)
	case *sqlparser.ComparisonExpr:
		switch n.Operator {
		case sqlparser.InStr, sqlparser.NotInStr:
			tuple, ok := n.Right.(sqlparser.ValTuple)
			if !ok {
				break
			}
			values := make([]Value, 0, len(tuple))
			for _, item := range tuple {
				v, ok := toValue(item)
				if !ok {
					return &OpaqueExpr{SQL: sqlparser.String(e)}
				}
				values = append(values, v)
			}
			if col, ok := operand(n.Left); ok {
				return &InExpr{Column: col, Values: values, Not: n.Operator == sqlparser.NotInStr}
			}
		default:
			op, ok := flipped[n.Operator]
			if !ok {
				break
			}
			if v, ok := toValue(n.Right); ok {
				if col, ok := operand(n.Left); ok {
					return &CompareExpr{Column: col, Operator: n.Operator, Value: v}
				}
			}
			if v, ok := toValue(n.Left); ok {
				if col, ok := operand(n.Right); ok {
					return &CompareExpr{Column: col, Operator: op, Value: v}
				}
			}
		}
	case *sqlparser.RangeCond:
		from, ok1 := toValue(n.From)
		to, ok2 := toValue(n.To)
		if ok1 && ok2 {
			if col, ok := operand(n.Left); ok {
				return &BetweenExpr{Column: col, From: from, To: to, Not: n.Operator == sqlparser.NotBetweenStr}
			}
		}
	}
	return &OpaqueExpr{SQL: sqlparser.String(e)}
}

// toValue converts a literal or ? marker; anything else is opaque.
func toValue(e sqlparser.Expr) (Value, bool) {
	switch n := e.(type) {
	case *sqlparser.SQLVal:
		s := string(n.Val)
		switch n.Type {
		case sqlparser.StrVal:
			return Value{Literal: s}, true
		case sqlparser.IntVal:
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Value{Literal: i}, true
			}
			if u, err := strconv.ParseUint(s, 10, 64); err == nil {
				return Value{Literal: u}, true
			}
		case sqlparser.FloatVal:
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return Value{Literal: f}, true
			}
		case sqlparser.HexNum:
			if u, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64); err == nil {
				return Value{Literal: u}, true
			}
		case sqlparser.HexVal:
			if raw, err := hex.DecodeString(s); err == nil {
				return Value{Literal: string(raw)}, true
			}
		case sqlparser.BitVal:
			if u, err := strconv.ParseUint(s, 2, 64); err == nil {
				return Value{Literal: u}, true
			}
		case sqlparser.ValArg:
			if strings.HasPrefix(s, ":v") {
				if i, err := strconv.Atoi(s[2:]); err == nil && i > 0 {
					return Value{Param: i}, true
				}
			}
		}
	case *sqlparser.NullVal:
		return Value{}, true
	case sqlparser.BoolVal:
		return Value{Literal: bool(n)}, true
	case *sqlparser.ParenExpr:
		return toValue(n.Expr)
	case *sqlparser.UnaryExpr:
		if n.Operator != sqlparser.UMinusStr {
			break
		}
		v, ok := toValue(n.Expr)
		if !ok || v.Param > 0 {
			break
		}
		switch x := v.Literal.(type) {
		case int64:
			return Value{Literal: -x}, true
		case float64:
			return Value{Literal: -x}, true
		}
	}
	return Value{Opaque: true}, false
}
