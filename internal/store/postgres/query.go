package postgres

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// listQuery accumulates WHERE clauses and positional arguments for a SELECT.
type listQuery struct {
	base   string
	where  []string
	args   []any
	order  string
	timeCl string
}

func newListQuery(base, timeColumn string) *listQuery {
	return &listQuery{base: base, timeCl: timeColumn, order: timeColumn + " DESC"}
}

func (q *listQuery) next() string { return fmt.Sprintf("$%d", len(q.args)+1) }

func (q *listQuery) eq(column string, v any) *listQuery {
	q.where = append(q.where, column+" = "+q.next())
	q.args = append(q.args, v)
	return q
}

func (q *listQuery) before(v any) *listQuery {
	q.where = append(q.where, q.timeCl+" < "+q.next())
	q.args = append(q.args, v)
	return q
}

func (q *listQuery) ascending() *listQuery {
	q.order = q.timeCl + " ASC"
	return q
}

// build renders the query, applying opts for time range and pagination.
func (q *listQuery) build(opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		q.where = append(q.where, q.timeCl+" >= "+q.next())
		q.args = append(q.args, *opts.Since)
	}
	if opts.Until != nil {
		q.where = append(q.where, q.timeCl+" <= "+q.next())
		q.args = append(q.args, *opts.Until)
	}

	var sb strings.Builder
	sb.WriteString(q.base)
	if len(q.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.where, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(q.order)

	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + q.next())
		q.args = append(q.args, opts.Limit)
	}
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + q.next())
		q.args = append(q.args, opts.Offset)
	}
	return sb.String(), q.args
}

// numeric renders an amount for a NUMERIC(78,0) parameter.
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric reads a NUMERIC column selected as text.
func parseNumeric(column, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: column %s: invalid numeric %q", column, s)
	}
	return v, nil
}
