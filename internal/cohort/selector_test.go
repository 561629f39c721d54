package cohort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/greetconfig"
	"github.com/sulthonmb/greeting-app/internal/query"
)

type fakeConfigs struct {
	cfg domain.GreetingConfig
	err error
}

func (f *fakeConfigs) Load(ctx context.Context, name string) (domain.GreetingConfig, error) {
	return f.cfg, f.err
}

// fakeExecutor returns the rows whose timezone matches the bound argument.
type fakeExecutor struct {
	mu      sync.Mutex
	rows    []domain.Candidate
	err     error
	queries []query.Query
}

func (f *fakeExecutor) QueryCandidates(ctx context.Context, q query.Query) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if len(q.Args) == 0 {
		return nil, errors.New("timezone argument missing")
	}
	tz := q.Args[len(q.Args)-1]
	var out []domain.Candidate
	for _, r := range f.rows {
		if r.Timezone == tz {
			out = append(out, r)
		}
	}
	return out, nil
}

func birthdayConfig() domain.GreetingConfig {
	return domain.GreetingConfig{
		MessageTemplates: map[domain.EventType]string{domain.EventBirthday: "Hey, {fullName} it's your birthday!"},
		Schedule: map[domain.EventType]domain.ScheduleRule{
			domain.EventBirthday: {
				Frequency: domain.FrequencyYearly,
				Time:      "09:00:00",
				Users: query.Descriptor{
					Select: []string{"users.uuid", "users.first_name", "users.email", "users.timezone"},
					From:   "users",
					Where:  []query.Condition{{Field: "users.deleted_at", Operator: "IS", Value: "NULL"}},
				},
			},
		},
		Delivery: domain.DeliveryPolicy{Methods: []domain.DeliveryMethod{domain.DeliveryMethodEmail}},
	}
}

func newTestSelector(cfg domain.GreetingConfig, exec *fakeExecutor) *Selector {
	return NewSelector(&fakeConfigs{cfg: cfg}, exec, "greetingSystem", zap.NewNop())
}

func TestSelect_AppendsBoundTimezone(t *testing.T) {
	exec := &fakeExecutor{rows: []domain.Candidate{
		{UUID: "u1", FirstName: "Ada", Email: "ada@x.com", Timezone: "Asia/Jakarta"},
		{UUID: "u2", FirstName: "Kenji", Email: "kenji@x.com", Timezone: "Asia/Tokyo"},
	}}
	s := newTestSelector(birthdayConfig(), exec)

	got, err := s.Select(context.Background(), domain.EventBirthday, "Asia/Jakarta")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UUID)

	require.Len(t, exec.queries, 1)
	assert.Equal(t,
		"SELECT users.uuid, users.first_name, users.email, users.timezone FROM users WHERE users.deleted_at IS NULL AND users.timezone = $1",
		exec.queries[0].SQL)
	assert.Equal(t, []any{"Asia/Jakarta"}, exec.queries[0].Args)
}

func TestSelect_TimezoneIsNeverInterpolated(t *testing.T) {
	exec := &fakeExecutor{}
	s := newTestSelector(birthdayConfig(), exec)

	_, err := s.Select(context.Background(), domain.EventBirthday, "x'; DROP TABLE users; --")
	require.NoError(t, err)
	assert.NotContains(t, exec.queries[0].SQL, "DROP TABLE")
}

func TestSelect_EmptyCohortIsNotAnError(t *testing.T) {
	s := newTestSelector(birthdayConfig(), &fakeExecutor{})

	got, err := s.Select(context.Background(), domain.EventBirthday, "Europe/Oslo")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSelect_RuleNotConfigured(t *testing.T) {
	s := newTestSelector(birthdayConfig(), &fakeExecutor{})

	_, err := s.Select(context.Background(), domain.EventAnniversary, "Asia/Jakarta")
	assert.ErrorIs(t, err, ErrRuleNotConfigured)
}

func TestSelect_ConfigErrorPassesThrough(t *testing.T) {
	s := NewSelector(&fakeConfigs{err: greetconfig.ErrConfigNotFound}, &fakeExecutor{}, "greetingSystem", zap.NewNop())

	_, err := s.Select(context.Background(), domain.EventBirthday, "Asia/Jakarta")
	assert.ErrorIs(t, err, greetconfig.ErrConfigNotFound)
}

func TestSelect_ExecutorFailure(t *testing.T) {
	s := newTestSelector(birthdayConfig(), &fakeExecutor{err: errors.New("relation does not exist")})

	_, err := s.Select(context.Background(), domain.EventBirthday, "Asia/Jakarta")
	assert.ErrorIs(t, err, ErrCohortQueryFailed)
}

func TestSelect_InvalidDescriptor(t *testing.T) {
	cfg := birthdayConfig()
	cfg.Schedule[domain.EventBirthday] = domain.ScheduleRule{Users: query.Descriptor{From: "users"}}
	s := newTestSelector(cfg, &fakeExecutor{})

	_, err := s.Select(context.Background(), domain.EventBirthday, "Asia/Jakarta")
	assert.ErrorIs(t, err, ErrCohortQueryFailed)
}

func TestSelect_Idempotent(t *testing.T) {
	exec := &fakeExecutor{rows: []domain.Candidate{
		{UUID: "u1", Timezone: "Asia/Jakarta"},
		{UUID: "u3", Timezone: "Asia/Jakarta"},
	}}
	s := newTestSelector(birthdayConfig(), exec)

	first, err := s.Select(context.Background(), domain.EventBirthday, "Asia/Jakarta")
	require.NoError(t, err)
	second, err := s.Select(context.Background(), domain.EventBirthday, "Asia/Jakarta")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, exec.queries[0], exec.queries[1])
}

func TestSelectFrom_ConcurrentTimezonesShareConfig(t *testing.T) {
	cfg := birthdayConfig()
	rule := cfg.Schedule[domain.EventBirthday]
	// Spare capacity would let an in-place append race between timezones.
	where := make([]query.Condition, len(rule.Users.Where), 16)
	copy(where, rule.Users.Where)
	rule.Users.Where = where
	cfg.Schedule[domain.EventBirthday] = rule

	exec := &fakeExecutor{}
	s := newTestSelector(cfg, exec)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SelectFrom(context.Background(), cfg, domain.EventBirthday, fmt.Sprintf("Etc/GMT+%d", i%12))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, cfg.Schedule[domain.EventBirthday].Users.Where, 1)
	for _, q := range exec.queries {
		assert.Len(t, q.Args, 1)
	}
}
