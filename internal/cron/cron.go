// Package cron turns a rule's time of day into a daily cron expression and
// evaluates it in a given timezone.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidTimeOfDay is returned for times that are not H:MM or H:MM:SS.
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// CronExpression converts "H:MM[:SS]" to the five-field expression firing
// daily at that minute. Each field has one or two digits, so "9:00:00" and
// "09:00:00" are both "0 9 * * *". Seconds are dropped.
func CronExpression(timeOfDay string) (string, error) {
	parts := strings.Split(timeOfDay, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, timeOfDay)
	}

	limits := []int{23, 59, 59}
	fields := make([]int, len(parts))
	for i, p := range parts {
		if len(p) < 1 || len(p) > 2 || strings.Trim(p, "0123456789") != "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, timeOfDay)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > limits[i] {
			return "", fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, timeOfDay)
		}
		fields[i] = n
	}

	return fmt.Sprintf("%d %d * * *", fields[1], fields[0]), nil
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse returns a schedule for expression evaluated in timezone. The result
// also satisfies robfig's cron.Schedule.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
