// Package cohort selects the recipients of one (event, timezone) run.
package cohort

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/query"
)

var (
	// ErrRuleNotConfigured is returned when the configuration has no
	// schedule rule for the requested event.
	ErrRuleNotConfigured = errors.New("schedule rule not configured")
	// ErrCohortQueryFailed wraps build or execution failures of the cohort query.
	ErrCohortQueryFailed = errors.New("cohort query failed")
)

// TimezoneField is the column compared against the run's timezone.
const TimezoneField = "users.timezone"

// ConfigSource loads the greeting configuration.
type ConfigSource interface {
	Load(ctx context.Context, name string) (domain.GreetingConfig, error)
}

// Executor runs a built cohort query and maps the rows to candidates.
type Executor interface {
	QueryCandidates(ctx context.Context, q query.Query) ([]domain.Candidate, error)
}

type Selector struct {
	configs    ConfigSource
	executor   Executor
	configName string
	logger     *zap.Logger
}

func NewSelector(configs ConfigSource, executor Executor, configName string, logger *zap.Logger) *Selector {
	return &Selector{
		configs:    configs,
		executor:   executor,
		configName: configName,
		logger:     logger,
	}
}

// Select loads the configuration and returns the candidates for event whose
// timezone equals tz.
func (s *Selector) Select(ctx context.Context, event domain.EventType, tz string) ([]domain.Candidate, error) {
	cfg, err := s.configs.Load(ctx, s.configName)
	if err != nil {
		return nil, err
	}
	return s.SelectFrom(ctx, cfg, event, tz)
}

// SelectFrom is Select against an already loaded configuration. cfg is never
// modified, so one configuration may serve concurrent calls for different
// timezones. An empty cohort is reported as (nil, nil).
func (s *Selector) SelectFrom(ctx context.Context, cfg domain.GreetingConfig, event domain.EventType, tz string) ([]domain.Candidate, error) {
	rule, ok := cfg.Schedule[event]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotConfigured, event)
	}

	d := rule.Users.WithCondition(query.Bind(TimezoneField, "=", tz))
	q, err := query.Build(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCohortQueryFailed, err)
	}

	candidates, err := s.executor.QueryCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCohortQueryFailed, err)
	}

	s.logger.Debug("cohort selected",
		zap.String("event", string(event)),
		zap.String("timezone", tz),
		zap.Int("size", len(candidates)),
	)

	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates, nil
}
