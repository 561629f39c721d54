// Package testutil provides shared test helpers for the greeter packages.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/query"
)

// FakeClock is a settable clock safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout, cancelled when the
// test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// BirthdayConfig mirrors the seeded greetingSystem document with a trimmed
// cohort query: a yearly birthday rule at 09:00:00, email delivery and the
// given retry budget.
func BirthdayConfig(maxAttempts int) domain.GreetingConfig {
	return domain.GreetingConfig{
		MessageTemplates: map[domain.EventType]string{
			domain.EventBirthday:    "Hey, {fullName} it's your birthday!",
			domain.EventAnniversary: "Happy Anniversary, {fullName}!",
		},
		Schedule: map[domain.EventType]domain.ScheduleRule{
			domain.EventBirthday: {
				Frequency: domain.FrequencyYearly,
				Time:      "09:00:00",
				Users: query.Descriptor{
					Select: []string{"users.uuid", "users.first_name", "users.last_name", "users.email", "users.timezone"},
					From:   "users",
					Where:  []query.Condition{{Field: "users.deleted_at", Operator: "IS", Value: "NULL"}},
				},
			},
		},
		Delivery: domain.DeliveryPolicy{
			Methods:     []domain.DeliveryMethod{domain.DeliveryMethodEmail},
			RetryPolicy: domain.RetryPolicy{MaxAttempts: maxAttempts, IntervalSeconds: 300},
		},
	}
}

// DraftRecord returns an on_going email record for subject.
func DraftRecord(subject, email, message string, createdAt time.Time) domain.DeliveryRecord {
	return domain.DeliveryRecord{
		ID:        uuid.New(),
		SubjectID: subject,
		Event:     domain.EventBirthday,
		Message:   message,
		Method:    domain.DeliveryMethodEmail,
		SentTo:    email,
		Status:    domain.DeliveryStatusOnGoing,
		CreatedAt: createdAt,
	}
}
