package db

import (
	"fmt"
)

// SearchQuery builds a parameterised SELECT from AND-composed predicates.
// Placeholders are numbered in the order arguments are added, so select-list
// expressions that need arguments must be bound before the WHERE clauses.
type SearchQuery struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a SearchQuery over from (a table or join expression).
func NewSearchQuery(from, cols string) *SearchQuery {
	return &SearchQuery{
		from: from,
		cols: cols,
		idx:  1,
	}
}

// Bind records v as the next argument and returns its placeholder.
func (q *SearchQuery) Bind(v interface{}) string {
	ph := fmt.Sprintf("$%d", q.idx)
	q.args = append(q.args, v)
	q.idx++
	return ph
}

// Add appends a raw WHERE clause fragment (without leading "AND").
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// AddIn restricts column to the given values. An empty list adds nothing.
func (q *SearchQuery) AddIn(column string, values []string) {
	if len(values) == 0 {
		return
	}
	q.Add(fmt.Sprintf("%s = ANY($%d)", column, q.idx), values)
}

// AddEqualOrNull adds an exact match on column, except that value == nullToken
// matches rows where column IS NULL.
func (q *SearchQuery) AddEqualOrNull(column, value, nullToken string) {
	if value == nullToken {
		q.Add(column + " IS NULL")
		return
	}
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
