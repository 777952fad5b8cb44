package merge

import (
	"container/heap"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/statement"
	"gorm/shardroute/util/compare"
)

// layout maps result labels to column indexes. Explicit select lists map by
// projection position since drivers name expression columns freely; star
// selects map by column name.
type layout struct {
	columns      []string
	projections  []statement.Projection
	byProjection bool
	fold         bool
}

func newLayout(stmt *statement.Context, columns []string) *layout {
	return &layout{
		columns:      columns,
		projections:  stmt.Projections,
		byProjection: !stmt.Star && len(stmt.Projections) == len(columns),
	}
}

func (l *layout) index(label string) (int, error) {
	if l.byProjection {
		for i, p := range l.projections {
			if strings.EqualFold(p.Label, label) {
				return i, nil
			}
		}
	}
	for i, c := range l.columns {
		if strings.EqualFold(c, label) {
			return i, nil
		}
	}
	return -1, errors.Wrapf(ErrUnknownColumn, "%q", label)
}

type sortKey struct {
	index      int
	desc       bool
	nullsFirst bool
	fold       bool
}

func (l *layout) sortKeys(items []statement.OrderItem) ([]sortKey, error) {
	keys := make([]sortKey, len(items))
	for i, item := range items {
		idx, err := l.index(item.Label)
		if err != nil {
			return nil, err
		}
		keys[i] = sortKey{index: idx, desc: item.Desc, nullsFirst: item.NullsFirst, fold: l.fold}
	}
	return keys, nil
}

// compareKeys compares two key tuples; NULL placement ignores direction.
func compareKeys(a, b []any, keys []sortKey) (int, error) {
	for i, k := range keys {
		x, y := compare.Normalize(a[i]), compare.Normalize(b[i])
		switch {
		case x == nil && y == nil:
			continue
		case x == nil:
			if k.nullsFirst {
				return -1, nil
			}
			return 1, nil
		case y == nil:
			if k.nullsFirst {
				return 1, nil
			}
			return -1, nil
		}
		c, err := keyCompare(x, y, k.fold)
		if err != nil {
			return 0, err
		}
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func keyCompare(x, y any, fold bool) (int, error) {
	if fold {
		xs, ok1 := x.(string)
		ys, ok2 := y.(string)
		if ok1 && ok2 {
			return compare.Fold(xs, ys), nil
		}
	}
	return valueCompare(x, y)
}

// valueCompare compares values, falling back to numbers when a driver
// returned a number as text.
func valueCompare(a, b any) (int, error) {
	c, err := compare.Values(a, b)
	if err == nil {
		return c, nil
	}
	x, ok1 := compare.Number(a)
	y, ok2 := compare.Number(b)
	if ok1 && ok2 {
		return compare.Values(x, y)
	}
	return 0, err
}

// transparent exposes the only result of a single unit.
type transparent struct {
	QueryResult
	rest []QueryResult
}

func (t *transparent) Close() error {
	return closeAll(append([]QueryResult{t.QueryResult}, t.rest...))
}

// iterator concatenates results in routing unit order.
type iterator struct {
	results []QueryResult
	pos     int
	err     error
}

func newIterator(results []QueryResult) *iterator {
	return &iterator{results: results}
}

func (it *iterator) Columns() []string { return it.results[0].Columns() }

func (it *iterator) Next() (bool, error) {
	if it.err != nil {
		return false, it.err
	}
	for it.pos < len(it.results) {
		ok, err := it.results[it.pos].Next()
		if err != nil {
			it.err = err
			return false, err
		}
		if ok {
			return true, nil
		}
		it.pos++
	}
	return false, nil
}

func (it *iterator) Value(i int) any {
	if it.pos >= len(it.results) {
		return nil
	}
	return it.results[it.pos].Value(i)
}

func (it *iterator) Close() error { return closeAll(it.results) }

// cursor is the head row of one result inside the order-by heap.
type cursor struct {
	result QueryResult
	order  int
	keys   []any
}

type cursorHeap struct {
	cursors []*cursor
	keys    []sortKey
	err     error
}

func (h *cursorHeap) Len() int { return len(h.cursors) }

func (h *cursorHeap) Less(i, j int) bool {
	a, b := h.cursors[i], h.cursors[j]
	c, err := compareKeys(a.keys, b.keys, h.keys)
	if err != nil && h.err == nil {
		h.err = err
	}
	if c != 0 {
		return c < 0
	}
	// 相同排序值按路由单元顺序
	return a.order < b.order
}

func (h *cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *cursorHeap) Push(x any) { h.cursors = append(h.cursors, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	n := len(h.cursors)
	c := h.cursors[n-1]
	h.cursors = h.cursors[:n-1]
	return c
}

// orderByStream k-way merges results that are each sorted by the same keys.
// It holds one row per result.
type orderByStream struct {
	results []QueryResult
	heap    cursorHeap
	current *cursor
	started bool
	err     error
}

func newOrderByStream(results []QueryResult, keys []sortKey) *orderByStream {
	return &orderByStream{results: results, heap: cursorHeap{keys: keys}}
}

func (s *orderByStream) Columns() []string { return s.results[0].Columns() }

func (s *orderByStream) Next() (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if !s.started {
		s.started = true
		for i, r := range s.results {
			if err := s.advance(&cursor{result: r, order: i}); err != nil {
				return false, s.fail(err)
			}
		}
	} else if s.current != nil {
		if err := s.advance(s.current); err != nil {
			return false, s.fail(err)
		}
	}
	if s.heap.Len() == 0 {
		s.current = nil
		return false, nil
	}
	s.current = heap.Pop(&s.heap).(*cursor)
	if s.heap.err != nil {
		return false, s.fail(s.heap.err)
	}
	return true, nil
}

// advance moves c to its next row and puts it back into the heap.
func (s *orderByStream) advance(c *cursor) error {
	ok, err := c.result.Next()
	if err != nil || !ok {
		return err
	}
	c.keys = make([]any, len(s.heap.keys))
	for i, k := range s.heap.keys {
		c.keys[i] = c.result.Value(k.index)
	}
	heap.Push(&s.heap, c)
	return s.heap.err
}

func (s *orderByStream) fail(err error) error {
	s.err = err
	s.current = nil
	return err
}

func (s *orderByStream) Value(i int) any {
	if s.current == nil {
		return nil
	}
	return s.current.result.Value(i)
}

func (s *orderByStream) Close() error { return closeAll(s.results) }

// trimmed hides the derived columns appended for merging.
type trimmed struct {
	QueryResult
	visible int
}

func (t *trimmed) Columns() []string {
	cols := t.QueryResult.Columns()
	if t.visible < len(cols) {
		return cols[:t.visible]
	}
	return cols
}

// pagination applies OFFSET and LIMIT to the merged stream.
type pagination struct {
	QueryResult
	offset   int64
	rowCount int64
	skipped  bool
	emitted  int64
}

func newPagination(inner QueryResult, offset, rowCount int64) QueryResult {
	if offset <= 0 && rowCount < 0 {
		return inner
	}
	return &pagination{QueryResult: inner, offset: offset, rowCount: rowCount}
}

func (p *pagination) Next() (bool, error) {
	if !p.skipped {
		p.skipped = true
		for i := int64(0); i < p.offset; i++ {
			ok, err := p.QueryResult.Next()
			if err != nil || !ok {
				return false, err
			}
		}
	}
	if p.rowCount >= 0 && p.emitted >= p.rowCount {
		return false, nil
	}
	ok, err := p.QueryResult.Next()
	if ok {
		p.emitted++
	}
	return ok, err
}
