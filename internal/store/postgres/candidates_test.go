package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	cols    []string
	data    [][]any
	pos     int
	scanErr error
	err     error
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.pos-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func TestScanCandidates_MapsKnownColumns(t *testing.T) {
	birth := time.Date(1990, 12, 27, 0, 0, 0, 0, time.UTC)
	rows := &fakeRows{
		cols: []string{"uuid", "first_name", "last_name", "email", "timezone", "city", "country", "birth_date", "password"},
		data: [][]any{
			{[]byte("6a1f0c3e-5b8e-4d55-9a53-1f0e6f5f3b10"), "Ada", "Lovelace", "ada@x.com", "Asia/Jakarta", "Jakarta", "ID", birth, "secret"},
			{"u2", []byte("Alan"), nil, "alan@x.com", "Asia/Jakarta", nil, nil, "1991-06-23", nil},
		},
	}

	got, err := scanCandidates(rows)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "6a1f0c3e-5b8e-4d55-9a53-1f0e6f5f3b10", got[0].UUID)
	assert.Equal(t, "Ada Lovelace", got[0].FullName())
	assert.Equal(t, "Jakarta", got[0].City)
	require.NotNil(t, got[0].BirthDate)
	assert.True(t, got[0].BirthDate.Equal(birth))

	assert.Equal(t, "Alan", got[1].FullName())
	assert.Empty(t, got[1].City)
	require.NotNil(t, got[1].BirthDate)
	assert.Equal(t, time.June, got[1].BirthDate.Month())
}

func TestScanCandidates_QualifiedAndUppercaseColumns(t *testing.T) {
	rows := &fakeRows{
		cols: []string{"users.EMAIL", "Users.First_Name"},
		data: [][]any{{"ada@x.com", "Ada"}},
	}

	got, err := scanCandidates(rows)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ada@x.com", got[0].Email)
	assert.Equal(t, "Ada", got[0].FirstName)
}

func TestScanCandidates_Empty(t *testing.T) {
	got, err := scanCandidates(&fakeRows{cols: []string{"uuid"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanCandidates_Errors(t *testing.T) {
	boom := errors.New("boom")

	_, err := scanCandidates(&fakeRows{cols: []string{"uuid"}, data: [][]any{{"u1"}}, scanErr: boom})
	assert.ErrorIs(t, err, boom)

	_, err = scanCandidates(&fakeRows{cols: []string{"uuid"}, err: boom})
	assert.ErrorIs(t, err, boom)

	_, err = scanCandidates(&fakeRows{cols: []string{"birth_date"}, data: [][]any{{"27/12/1990"}}})
	assert.Error(t, err)
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, isDuplicateKeyError(&pq.Error{Code: "23505"}))
	assert.False(t, isDuplicateKeyError(&pq.Error{Code: "23503"}))
	assert.False(t, isDuplicateKeyError(errors.New("duplicate key")))
	assert.False(t, isDuplicateKeyError(nil))
}
