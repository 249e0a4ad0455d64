package supabase

import (
	"net/url"
	"strings"
	"time"
)

// ============================================================
// PostgREST query helpers
// ============================================================

// query builds a PostgREST path with encoded filters.
type query struct {
	table  string
	values url.Values
}

func from(table string) *query {
	return &query{table: table, values: url.Values{}}
}

func (q *query) eq(column, value string) *query {
	q.values.Add(column, "eq."+value)
	return q
}

func (q *query) lt(column string, t time.Time) *query {
	q.values.Add(column, "lt."+formatTime(t))
	return q
}

func (q *query) gte(column string, t time.Time) *query {
	q.values.Add(column, "gte."+formatTime(t))
	return q
}

func (q *query) lte(column string, t time.Time) *query {
	q.values.Add(column, "lte."+formatTime(t))
	return q
}

func (q *query) in(column string, values []string) *query {
	q.values.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

func (q *query) set(key, value string) *query {
	q.values.Set(key, value)
	return q
}

func (q *query) limit(n string) *query {
	return q.set("limit", n)
}

func (q *query) path() string {
	if len(q.values) == 0 {
		return q.table
	}
	return q.table + "?" + q.values.Encode()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
