package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptySelect = errors.New("query: select list is empty")
	ErrEmptySource = errors.New("query: source is empty")
)

// Query is a generated statement and its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

// Build composes SELECT, FROM, JOIN, WHERE, ORDER BY and LIMIT in that order.
// Empty optional clauses are dropped. Conditions keep their given order and
// are joined with AND; bound conditions become $1..$n.
func Build(d Descriptor) (Query, error) {
	if len(d.Select) == 0 {
		return Query{}, ErrEmptySelect
	}
	if strings.TrimSpace(d.From) == "" {
		return Query{}, ErrEmptySource
	}

	parts := []string{
		"SELECT " + strings.Join(d.Select, ", "),
		"FROM " + d.From,
	}

	for _, j := range d.Joins {
		typ := j.Type
		if typ == "" {
			typ = JoinInner
		}
		parts = append(parts, fmt.Sprintf("%s JOIN %s ON %s", typ, j.Table, j.On))
	}

	var args []any
	if len(d.Where) > 0 {
		terms := make([]string, len(d.Where))
		for i, c := range d.Where {
			if c.bound {
				args = append(args, c.arg)
				terms[i] = fmt.Sprintf("%s %s $%d", c.Field, c.Operator, len(args))
				continue
			}
			terms[i] = fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
		}
		parts = append(parts, "WHERE "+strings.Join(terms, " AND "))
	}

	if len(d.OrderBy) > 0 {
		orders := make([]string, len(d.OrderBy))
		for i, o := range d.OrderBy {
			orders[i] = strings.TrimSpace(o.Field + " " + o.Direction)
		}
		parts = append(parts, "ORDER BY "+strings.Join(orders, ", "))
	}

	if d.Limit != nil {
		parts = append(parts, fmt.Sprintf("LIMIT %d", *d.Limit))
	}

	return Query{SQL: strings.Join(parts, " "), Args: args}, nil
}
