// Package query turns a declarative cohort descriptor into a SQL statement.
//
// The builder is a textual composer, not a planner. Literal condition values
// taken from the greeting configuration are interpolated verbatim; callers
// must pre-quote string literals there. Values that originate at runtime
// (for example the timezone of a run) are attached with Bind and emitted as
// positional placeholders so the executor binds them.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JoinType is the SQL join flavour. An empty JoinType means INNER.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
)

// Descriptor is the cohort query shape stored under schedule.<event>.users.
type Descriptor struct {
	Select  []string    `json:"select"`
	From    string      `json:"from"`
	Joins   []Join      `json:"joins,omitempty"`
	Where   []Condition `json:"where,omitempty"`
	OrderBy []Order     `json:"orderBy,omitempty"`
	Limit   *int        `json:"limit,omitempty"`
}

type Join struct {
	Table string   `json:"table"`
	On    string   `json:"on"`
	Type  JoinType `json:"type,omitempty"`
}

type Order struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// Condition is one "<field> <operator> <value>" term of the WHERE clause.
type Condition struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    Literal `json:"value"`

	arg   any
	bound bool
}

// Bind returns a condition whose value is passed to the executor as an
// argument instead of being written into the statement.
func Bind(field, operator string, arg any) Condition {
	return Condition{Field: field, Operator: operator, arg: arg, bound: true}
}

// Bound reports whether the condition carries a bound argument.
func (c Condition) Bound() bool { return c.bound }

// Arg returns the bound argument, nil for literal conditions.
func (c Condition) Arg() any { return c.arg }

// Literal is a SQL fragment. In JSON it may be written as a string or a
// number; both decode to their textual form.
type Literal string

func (l *Literal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = "NULL"
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Literal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*l = Literal(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*l = Literal(strconv.FormatBool(b))
		return nil
	}
	return fmt.Errorf("query: unsupported condition value %s", data)
}

// Clone returns a deep copy. Appending to the copy's slices never touches
// the receiver, which may be shared between concurrent runs.
func (d Descriptor) Clone() Descriptor {
	out := Descriptor{From: d.From}
	if d.Select != nil {
		out.Select = append([]string(nil), d.Select...)
	}
	if d.Joins != nil {
		out.Joins = append([]Join(nil), d.Joins...)
	}
	if d.Where != nil {
		out.Where = append([]Condition(nil), d.Where...)
	}
	if d.OrderBy != nil {
		out.OrderBy = append([]Order(nil), d.OrderBy...)
	}
	if d.Limit != nil {
		limit := *d.Limit
		out.Limit = &limit
	}
	return out
}

// WithCondition returns a copy of d with c appended to its conditions.
func (d Descriptor) WithCondition(c Condition) Descriptor {
	out := d.Clone()
	out.Where = append(out.Where, c)
	return out
}
