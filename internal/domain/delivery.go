package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryMethod string

const (
	DeliveryMethodEmail DeliveryMethod = "email"
	DeliveryMethodSMS   DeliveryMethod = "sms"
)

type DeliveryStatus string

const (
	DeliveryStatusOnGoing DeliveryStatus = "on_going"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DeliveryRecord is one greeting sent (or being sent) to one recipient over
// one delivery method. The JSON form is also the queue wire format.
type DeliveryRecord struct {
	ID        uuid.UUID      `json:"uuid"`
	SubjectID string         `json:"uuid_user"`
	Event     EventType      `json:"event"`
	Message   string         `json:"message"`
	Method    DeliveryMethod `json:"sent_via"`
	SentTo    string         `json:"sent_to"`
	Status    DeliveryStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at"`
}
