package statement

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

// sqlparser生成的sql中，原sql带有?会被替换成:v+数字，需对其做替换
var markerRe = regexp.MustCompile(`:v(\d+)`)

// Rewrite 将逻辑表名替换为实际表名, 返回可在单个数据源上执行的sql与参数.
// tables maps lowercase logic table names to actual names. merging is true
// when the results of several units are merged: SELECT then carries derived
// columns, drops HAVING for grouped queries and pushes pagination down as
// LIMIT offset+count, or strips it when rows are grouped.
func (c *Context) Rewrite(tables map[string]string, merging bool) (string, []any, error) {
	switch c.Category {
	case Select, Insert, Update, Delete:
	case DDL, DALUnicast, DALBroadcast:
		return replaceTables(c.SQL, tables), c.Params, nil
	default:
		return c.SQL, c.Params, nil
	}
	src := c.plain
	if merging {
		src = c.derived
	}
	stmt, err := sqlparser.Parse(src)
	if err != nil {
		return "", nil, errors.Wrapf(ErrParse, "%v: %s", err, src)
	}
	renameTables(stmt, tables)
	if merging {
		if err := c.paginate(stmt); err != nil {
			return "", nil, err
		}
	}
	return bindMarkers(sqlparser.String(stmt), c.Params)
}

// RewriteInsert rewrites an INSERT keeping only the given VALUES rows, by
// 0-based index; nil keeps every row.
func (c *Context) RewriteInsert(tables map[string]string, rows []int) (string, []any, error) {
	if c.Category != Insert || rows == nil {
		return c.Rewrite(tables, false)
	}
	stmt, err := sqlparser.Parse(c.plain)
	if err != nil {
		return "", nil, errors.Wrapf(ErrParse, "%v: %s", err, c.plain)
	}
	renameTables(stmt, tables)
	if ins, ok := stmt.(*sqlparser.Insert); ok {
		if values, ok := ins.Rows.(sqlparser.Values); ok {
			kept := make(sqlparser.Values, 0, len(rows))
			for _, i := range rows {
				if i < 0 || i >= len(values) {
					return "", nil, errors.Errorf("insert row %d of %d", i, len(values))
				}
				kept = append(kept, values[i])
			}
			ins.Rows = kept
		}
	}
	return bindMarkers(sqlparser.String(stmt), c.Params)
}

func renameTables(stmt sqlparser.Statement, tables map[string]string) {
	lookup := func(name string) (sqlparser.TableIdent, bool) {
		actual, ok := tables[strings.ToLower(name)]
		return sqlparser.NewTableIdent(actual), ok && name != ""
	}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.AliasedTableExpr:
			if tn, ok := n.Expr.(sqlparser.TableName); ok {
				if actual, ok := lookup(tn.Name.String()); ok {
					tn.Name = actual
					n.Expr = tn
				}
			}
		case *sqlparser.ColName:
			if actual, ok := lookup(n.Qualifier.Name.String()); ok {
				n.Qualifier.Name = actual
			}
		case *sqlparser.StarExpr:
			if actual, ok := lookup(n.TableName.Name.String()); ok {
				n.TableName.Name = actual
			}
		case *sqlparser.Insert:
			if actual, ok := lookup(n.Table.Name.String()); ok {
				n.Table.Name = actual
			}
		case *sqlparser.Delete:
			for i := range n.Targets {
				if actual, ok := lookup(n.Targets[i].Name.String()); ok {
					n.Targets[i].Name = actual
				}
			}
		}
		return true, nil
	}, stmt)
}

func (c *Context) paginate(stmt sqlparser.Statement) error {
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Limit == nil {
		return nil
	}
	if c.IsGrouped() {
		sel.Limit = nil
		return nil
	}
	offset, rowCount, err := c.Pagination()
	if err != nil {
		return err
	}
	if rowCount < 0 {
		sel.Limit = nil
		return nil
	}
	sel.Limit = &sqlparser.Limit{Rowcount: sqlparser.NewIntVal([]byte(strconv.FormatInt(offset+rowCount, 10)))}
	return nil
}

// bindMarkers turns :vN markers back into ? and orders args to match.
func bindMarkers(sql string, params []any) (string, []any, error) {
	var (
		args []any
		err  error
	)
	out := markerRe.ReplaceAllStringFunc(sql, func(m string) string {
		n, _ := strconv.Atoi(m[2:])
		if n < 1 || n > len(params) {
			err = errors.Wrapf(ErrParamIndex, "parameter %d of %d", n, len(params))
			return m
		}
		args = append(args, params[n-1])
		return "?"
	})
	if err != nil {
		return "", nil, err
	}
	return out, args, nil
}

// replaceTables 按单词替换原sql中的表名, 用于只被部分解析的DDL与SHOW语句
func replaceTables(sql string, tables map[string]string) string {
	logics := make([]string, 0, len(tables))
	for logic := range tables {
		logics = append(logics, logic)
	}
	sort.Slice(logics, func(i, j int) bool { return len(logics[i]) > len(logics[j]) || (len(logics[i]) == len(logics[j]) && logics[i] < logics[j]) })
	for _, logic := range logics {
		actual := tables[logic]
		re := regexp.MustCompile("(?i)(`?)\\b" + regexp.QuoteMeta(logic) + "\\b(`?)")
		sql = re.ReplaceAllString(sql, "${1}"+actual+"${2}")
	}
	return sql
}
