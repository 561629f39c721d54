package domain

import "github.com/sulthonmb/greeting-app/internal/query"

type EventType string

const (
	EventBirthday    EventType = "birthday"
	EventAnniversary EventType = "anniversary"
)

// FrequencyYearly rules fire daily at Time; the cohort query narrows the
// recipients to those whose date matches today.
const FrequencyYearly = "yearly"

// GreetingConfig is the typed form of the greeting-system configuration
// document. It is loaded fresh for every run and must be treated as
// read-only once loaded.
type GreetingConfig struct {
	MessageTemplates map[EventType]string       `json:"messageTemplates"`
	Schedule         map[EventType]ScheduleRule `json:"schedule"`
	UserSchema       UserSchema                 `json:"userSchema"`
	Settings         Settings                   `json:"settings"`
	Delivery         DeliveryPolicy             `json:"delivery"`
}

type ScheduleRule struct {
	Frequency string `json:"frequency"`
	// Time is HH:MM:SS in the recipient's timezone.
	Time  string           `json:"time"`
	Users query.Descriptor `json:"users"`
}

type UserSchema struct {
	Fields         map[string]string `json:"fields"`
	RequiredFields []string          `json:"requiredFields"`
}

// Settings are advisory; nothing reads SkipWeekends yet.
type Settings struct {
	SkipWeekends bool `json:"skipWeekends"`
}

type DeliveryPolicy struct {
	Methods     []DeliveryMethod `json:"methods"`
	RetryPolicy RetryPolicy      `json:"retryPolicy"`
}

type RetryPolicy struct {
	MaxAttempts     int `json:"maxAttempts"`
	IntervalSeconds int `json:"intervalSeconds"`
}

// MaxRetries returns the broker retry budget, at least 1.
func (p RetryPolicy) MaxRetries() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
