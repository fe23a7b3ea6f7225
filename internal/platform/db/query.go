package db

import (
	"fmt"
	"strings"
)

// Query builds filtered, paginated SELECTs with positional arguments.
type Query struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols, idx: 1}
}

// Idx returns the next available parameter index.
func (q *Query) Idx() int { return q.idx }

// Add appends a raw WHERE fragment (without leading "AND"). Placeholders in
// clause must start at Idx().
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// Eq adds column = value, skipping empty values.
func (q *Query) Eq(column, value string) {
	if value == "" {
		return
	}
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// Contains adds a case-insensitive substring match over any of columns,
// skipping empty terms.
func (q *Query) Contains(term string, columns ...string) {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, q.idx)
	}
	q.where += " AND (" + strings.Join(parts, " OR ") + ")"
	q.args = append(q.args, "%"+escapeLike(term)+"%")
	q.idx++
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *Query) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *Query) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET.
func (q *Query) DataSQL(limit, offset int) string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the filter args followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
