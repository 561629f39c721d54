package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/sulthonmb/greeting-app/internal/domain"
)

// rowSource is the subset of *sql.Rows used to scan candidates.
type rowSource interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// candidateFields maps a result column to the Candidate field it fills.
var candidateFields = map[string]func(c *domain.Candidate, v any) error{
	"uuid":       func(c *domain.Candidate, v any) error { c.UUID = asString(v); return nil },
	"first_name": func(c *domain.Candidate, v any) error { c.FirstName = asString(v); return nil },
	"last_name":  func(c *domain.Candidate, v any) error { c.LastName = asString(v); return nil },
	"email":      func(c *domain.Candidate, v any) error { c.Email = asString(v); return nil },
	"timezone":   func(c *domain.Candidate, v any) error { c.Timezone = asString(v); return nil },
	"city":       func(c *domain.Candidate, v any) error { c.City = asString(v); return nil },
	"country":    func(c *domain.Candidate, v any) error { c.Country = asString(v); return nil },
	"birth_date": setBirthDate,
}

func scanCandidates(rows rowSource) ([]domain.Candidate, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	setters := make([]func(*domain.Candidate, any) error, len(cols))
	for i, col := range cols {
		setters[i] = candidateFields[columnName(col)]
	}

	var result []domain.Candidate
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		var c domain.Candidate
		for i, set := range setters {
			if set == nil || values[i] == nil {
				continue
			}
			if err := set(&c, values[i]); err != nil {
				return nil, fmt.Errorf("column %s: %w", cols[i], err)
			}
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// columnName strips a table qualifier and normalizes case.
func columnName(col string) string {
	if i := strings.LastIndexByte(col, '.'); i >= 0 {
		col = col[i+1:]
	}
	return strings.ToLower(col)
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func setBirthDate(c *domain.Candidate, v any) error {
	switch x := v.(type) {
	case time.Time:
		c.BirthDate = &x
		return nil
	case string, []byte:
		t, err := time.Parse(time.DateOnly, asString(x))
		if err != nil {
			return err
		}
		c.BirthDate = &t
		return nil
	default:
		return fmt.Errorf("unsupported birth_date type %T", v)
	}
}
