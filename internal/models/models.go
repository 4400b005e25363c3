package models

import "time"

type GenerationStatus string

const (
	StatusQueued    GenerationStatus = "queued"
	StatusDelivered GenerationStatus = "delivered"
	StatusFailed    GenerationStatus = "failed"
)

// User is one row of the credit ledger, keyed by the Telegram user ID.
type User struct {
	UserID    int64
	FirstName string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is a processed payment-provider event. The unique key on
// (provider, provider_event_id) is what makes top-ups replay-safe.
type Payment struct {
	ID         int64
	Provider   string
	EventID    string
	UserID     int64
	Credits    int
	RawPayload string
	CreatedAt  time.Time
}

// Generation is one dispatched image-generation job.
type Generation struct {
	JobID     string
	UserID    int64
	Prompt    string
	Status    GenerationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
