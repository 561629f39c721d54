// Package compose renders greeting templates into delivery record drafts.
package compose

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
)

// FullNamePlaceholder is the only placeholder templates may use.
const FullNamePlaceholder = "{fullName}"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Composer struct {
	clock  Clock
	newID  func() uuid.UUID
	logger *zap.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock sets the clock used for CreatedAt.
func WithClock(c Clock) Option {
	return func(cm *Composer) { cm.clock = c }
}

// WithIDGenerator replaces uuid.New.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(cm *Composer) { cm.newID = fn }
}

func New(logger *zap.Logger, opts ...Option) *Composer {
	c := &Composer{
		clock:  realClock{},
		newID:  uuid.New,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose returns one on_going draft per method for candidate. Every draft
// is addressed to the candidate's email; methods that cannot use it are
// failed later by the consumer.
func (c *Composer) Compose(event domain.EventType, candidate domain.Candidate, template string, methods []domain.DeliveryMethod) []domain.DeliveryRecord {
	message := c.Render(event, candidate, template)
	now := c.clock.Now()

	drafts := make([]domain.DeliveryRecord, 0, len(methods))
	for _, method := range methods {
		drafts = append(drafts, domain.DeliveryRecord{
			ID:        c.newID(),
			SubjectID: candidate.UUID,
			Event:     event,
			Message:   message,
			Method:    method,
			SentTo:    candidate.Email,
			Status:    domain.DeliveryStatusOnGoing,
			CreatedAt: now,
		})
	}
	return drafts
}

// Render substitutes the candidate's full name into template. Events other
// than birthday and anniversary render to the empty string.
func (c *Composer) Render(event domain.EventType, candidate domain.Candidate, template string) string {
	switch event {
	case domain.EventBirthday, domain.EventAnniversary:
		return strings.ReplaceAll(template, FullNamePlaceholder, candidate.FullName())
	default:
		c.logger.Warn("unsupported event, rendering empty message",
			zap.String("event", string(event)),
			zap.String("subject", candidate.UUID),
		)
		return ""
	}
}
