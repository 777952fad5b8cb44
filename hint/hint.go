// Package hint carries sharding hints on a context.Context. A context holds an
// immutable Values snapshot; every With* call copies it, so hints never leak
// between statements and clearing them means using the parent context.
package hint

import (
	"context"
	"strings"
)

type contextKey struct{}

// Values 会话级分片提示
type Values struct {
	DatabaseValues map[string][]any
	TableValues    map[string][]any
	// DataSource pins unicast and hint routing to one logical data source.
	DataSource string
	// PrimaryOnly forces reads to the primary of a readwrite group.
	PrimaryOnly bool
}

// FromContext returns the hints carried by ctx.
func FromContext(ctx context.Context) (Values, bool) {
	if ctx == nil {
		return Values{}, false
	}
	v, ok := ctx.Value(contextKey{}).(Values)
	return v, ok
}

// DatabaseHints returns the database sharding hints of a logic table.
func (v Values) DatabaseHints(table string) []any {
	return v.DatabaseValues[strings.ToLower(table)]
}

// TableHints returns the table sharding hints of a logic table.
func (v Values) TableHints(table string) []any {
	return v.TableValues[strings.ToLower(table)]
}

// WithDatabaseValues adds database sharding hint values for a logic table.
func WithDatabaseValues(ctx context.Context, table string, values ...any) context.Context {
	v := clone(ctx)
	k := strings.ToLower(table)
	v.DatabaseValues[k] = append(append([]any(nil), v.DatabaseValues[k]...), values...)
	return context.WithValue(ctx, contextKey{}, v)
}

// WithTableValues adds table sharding hint values for a logic table.
func WithTableValues(ctx context.Context, table string, values ...any) context.Context {
	v := clone(ctx)
	k := strings.ToLower(table)
	v.TableValues[k] = append(append([]any(nil), v.TableValues[k]...), values...)
	return context.WithValue(ctx, contextKey{}, v)
}

// WithDataSource pins routing to a data source.
func WithDataSource(ctx context.Context, dataSource string) context.Context {
	v := clone(ctx)
	v.DataSource = dataSource
	return context.WithValue(ctx, contextKey{}, v)
}

// WithPrimary routes reads to the primary data source.
func WithPrimary(ctx context.Context) context.Context {
	v := clone(ctx)
	v.PrimaryOnly = true
	return context.WithValue(ctx, contextKey{}, v)
}

func clone(ctx context.Context) Values {
	old, _ := FromContext(ctx)
	v := Values{
		DatabaseValues: make(map[string][]any, len(old.DatabaseValues)),
		TableValues:    make(map[string][]any, len(old.TableValues)),
		DataSource:     old.DataSource,
		PrimaryOnly:    old.PrimaryOnly,
	}
	for k, s := range old.DatabaseValues {
		v.DatabaseValues[k] = s
	}
	for k, s := range old.TableValues {
		v.TableValues[k] = s
	}
	return v
}
