// Package postgres implements the greeter's persistence on PostgreSQL
// through database/sql and lib/pq: the greeting configuration lookup, the
// cohort query executor and the delivery history.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sulthonmb/greeting-app/internal/cohort"
	"github.com/sulthonmb/greeting-app/internal/dispatcher"
	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/greetconfig"
	"github.com/sulthonmb/greeting-app/internal/orchestrator"
	"github.com/sulthonmb/greeting-app/internal/query"
	"github.com/sulthonmb/greeting-app/internal/reconciler"
)

// Store is the PostgreSQL adapter.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	now       func() time.Time
}

// New creates a new PostgreSQL store with the given database connection.
// opTimeout bounds every operation; 0 leaves the caller's deadline alone.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, now: time.Now}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// FindConfig returns the raw configuration document stored under name.
// Returns greetconfig.ErrConfigNotFound when no row exists.
func (s *Store) FindConfig(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc []byte
	err := s.db.QueryRowContext(ctx, queryFindConfig, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, greetconfig.ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// QueryCandidates runs a built cohort query. Columns are matched by name;
// columns the candidate does not carry are ignored.
func (s *Store) QueryCandidates(ctx context.Context, q query.Query) ([]domain.Candidate, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// BulkInsertDeliveries inserts records in one transaction; either all rows
// are written or none.
func (s *Store) BulkInsertDeliveries(ctx context.Context, records []domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, queryInsertDelivery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.SubjectID,
			string(rec.Event),
			rec.Message,
			string(rec.Method),
			rec.SentTo,
			string(rec.Status),
			rec.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("insert delivery %s: unique violation: %w", rec.ID, err)
			}
			return fmt.Errorf("insert delivery %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// UpdateDeliveryStatus sets status and updated_at on rec's row, inserting
// the row from rec when it does not exist yet.
// Returns dispatcher.ErrStatusTransitionDenied if the record is already in
// success.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, rec domain.DeliveryRecord, status domain.DeliveryStatus) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	result, err := s.db.ExecContext(ctx, queryUpsertDeliveryStatus,
		rec.ID,
		rec.SubjectID,
		string(rec.Event),
		rec.Message,
		string(rec.Method),
		rec.SentTo,
		string(status),
		createdAt,
		s.now().UTC(),
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return dispatcher.ErrStatusTransitionDenied
	}
	return nil
}

// GetStaleDeliveries returns on_going records last written before olderThan,
// oldest first.
func (s *Store) GetStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]domain.DeliveryRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetStaleDeliveries, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryRecord
	for rows.Next() {
		var (
			rec                   domain.DeliveryRecord
			event, method, status string
			updatedAt             pq.NullTime
		)
		err := rows.Scan(
			&rec.ID,
			&rec.SubjectID,
			&event,
			&rec.Message,
			&method,
			&rec.SentTo,
			&status,
			&rec.CreatedAt,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Event = domain.EventType(event)
		rec.Method = domain.DeliveryMethod(method)
		rec.Status = domain.DeliveryStatus(status)
		if updatedAt.Valid {
			t := updatedAt.Time
			rec.UpdatedAt = &t
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TouchDelivery bumps updated_at on an on_going record.
func (s *Store) TouchDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryTouchDelivery, at, id)
	return err
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Compile-time interface assertions
var (
	_ greetconfig.Lookup = (*Store)(nil)
	_ cohort.Executor    = (*Store)(nil)
	_ dispatcher.Store   = (*Store)(nil)
	_ orchestrator.Store = (*Store)(nil)
	_ reconciler.Store   = (*Store)(nil)
)
