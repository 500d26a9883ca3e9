package query

import (
	"fmt"
	"strings"
)

// selectBuilder accumulates the FROM and WHERE parts of one query. The
// SQL text it produces depends only on which conditions were added, never
// on their values, which are collected separately in args.
type selectBuilder struct {
	from  string
	joins []string
	where []string
	args  []interface{}
}

func newSelect(from string) *selectBuilder {
	return &selectBuilder{from: from}
}

// join adds a JOIN clause. Join clauses must not carry placeholders.
func (b *selectBuilder) join(clause string) {
	b.joins = append(b.joins, clause)
}

// and adds a condition and its bound values.
func (b *selectBuilder) and(cond string, args ...interface{}) {
	b.where = append(b.where, cond)
	b.args = append(b.args, args...)
}

// selectSQL renders the statement. LIMIT is always present; OFFSET only
// when offset is positive. Both are bound parameters.
func (b *selectBuilder) selectSQL(columns, orderBy string, limit, offset int) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	b.writeBody(&sb)
	args := append([]interface{}(nil), b.args...)
	if orderBy != "" {
		sb.WriteString("\nORDER BY ")
		sb.WriteString(orderBy)
	}
	if limit > 0 {
		sb.WriteString("\nLIMIT ?")
		args = append(args, limit)
	}
	if offset > 0 {
		sb.WriteString("\nOFFSET ?")
		args = append(args, offset)
	}
	return sb.String(), args
}

// countSQL renders a single-value count over the same row set.
func (b *selectBuilder) countSQL(expr string) (string, []interface{}) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT COUNT(%s)", expr)
	b.writeBody(&sb)
	return sb.String(), append([]interface{}(nil), b.args...)
}

func (b *selectBuilder) writeBody(sb *strings.Builder) {
	sb.WriteString("\nFROM ")
	sb.WriteString(b.from)
	for _, j := range b.joins {
		sb.WriteString("\n")
		sb.WriteString(j)
	}
	if len(b.where) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(b.where, "\n  AND "))
	}
}

// filterSpec is one optional restriction of a resource. apply runs only
// when present reports a value. A correlated filter restricts through a
// subquery whose rows depend on other tables, and makes the whole call
// bypass the plan cache.
type filterSpec[F any] struct {
	name       string
	present    func(f *F) bool
	apply      func(b *selectBuilder, f *F)
	correlated bool
}

// assembled is the outcome of folding a filter list over a builder.
type assembled struct {
	names     []string
	cacheable bool
}

// assemble folds specs over b in declaration order. Absent filters
// contribute nothing.
func assemble[F any](b *selectBuilder, specs []filterSpec[F], f *F) assembled {
	out := assembled{cacheable: true}
	for _, s := range specs {
		if !s.present(f) {
			continue
		}
		s.apply(b, f)
		out.names = append(out.names, s.name)
		if s.correlated {
			out.cacheable = false
		}
	}
	return out
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// Small presence helpers shared by the filter tables.

func isSet[T any](p *T) bool { return p != nil }
