package compose

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/testutil"
)

var ada = domain.Candidate{UUID: "u1", FirstName: "Ada", Email: "ada@x.com", Timezone: "Asia/Jakarta"}

func TestCompose_BirthdayDraft(t *testing.T) {
	at := time.Date(2024, 12, 27, 2, 0, 0, 0, time.UTC)
	c := New(zap.NewNop(), WithClock(testutil.NewFakeClock(at)))

	drafts := c.Compose(domain.EventBirthday, ada, "Hey, {fullName} it's your birthday!", []domain.DeliveryMethod{domain.DeliveryMethodEmail})

	require.Len(t, drafts, 1)
	d := drafts[0]
	assert.Equal(t, "Hey, Ada it's your birthday!", d.Message)
	assert.Equal(t, domain.DeliveryMethodEmail, d.Method)
	assert.Equal(t, domain.DeliveryStatusOnGoing, d.Status)
	assert.Equal(t, "u1", d.SubjectID)
	assert.Equal(t, "ada@x.com", d.SentTo)
	assert.Equal(t, domain.EventBirthday, d.Event)
	assert.Equal(t, at, d.CreatedAt)
	assert.Nil(t, d.UpdatedAt)
	assert.NotEqual(t, uuid.Nil, d.ID)
}

func TestCompose_OneDraftPerMethod(t *testing.T) {
	c := New(zap.NewNop())

	drafts := c.Compose(domain.EventAnniversary, ada, "Happy Anniversary, {fullName}!",
		[]domain.DeliveryMethod{domain.DeliveryMethodEmail, domain.DeliveryMethodSMS})

	require.Len(t, drafts, 2)
	assert.Equal(t, domain.DeliveryMethodEmail, drafts[0].Method)
	assert.Equal(t, domain.DeliveryMethodSMS, drafts[1].Method)
	assert.Equal(t, drafts[0].SentTo, drafts[1].SentTo)
	assert.NotEqual(t, drafts[0].ID, drafts[1].ID)
}

func TestCompose_NoMethods(t *testing.T) {
	c := New(zap.NewNop())
	assert.Empty(t, c.Compose(domain.EventBirthday, ada, "hi", nil))
}

func TestRender(t *testing.T) {
	c := New(zap.NewNop())
	lovelace := domain.Candidate{FirstName: "Ada", LastName: "Lovelace"}

	tests := []struct {
		name      string
		event     domain.EventType
		candidate domain.Candidate
		template  string
		want      string
	}{
		{"first name only", domain.EventBirthday, ada, "Hey, {fullName}!", "Hey, Ada!"},
		{"full name", domain.EventBirthday, lovelace, "Hey, {fullName}!", "Hey, Ada Lovelace!"},
		{"every occurrence", domain.EventAnniversary, ada, "{fullName}, {fullName}!", "Ada, Ada!"},
		{"unknown placeholder kept", domain.EventBirthday, ada, "Hi {nickname} ({fullName})", "Hi {nickname} (Ada)"},
		{"no placeholder", domain.EventBirthday, ada, "Happy birthday", "Happy birthday"},
		{"unsupported event", domain.EventType("graduation"), ada, "Congrats {fullName}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Render(tt.event, tt.candidate, tt.template))
		})
	}
}

func TestCompose_IDGenerator(t *testing.T) {
	fixed := testutil.MustParseUUID("6a1f0c3e-5b8e-4d55-9a53-1f0e6f5f3b10")
	c := New(zap.NewNop(), WithIDGenerator(func() uuid.UUID { return fixed }))

	drafts := c.Compose(domain.EventBirthday, ada, "hi", []domain.DeliveryMethod{domain.DeliveryMethodEmail})
	assert.Equal(t, fixed, drafts[0].ID)
}
