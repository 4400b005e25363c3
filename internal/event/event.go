package event

// StartCommand is the session-start message every Telegram client sends first.
const StartCommand = "/start"

// DefaultName is used when the sender did not share a first name.
const DefaultName = "there"

// Event is one classified inbound webhook payload. Exactly one of the
// concrete types below is produced per payload.
type Event interface {
	event()
}

// Payment is a payment-provider confirmation crediting a user.
type Payment struct {
	UserID  int64
	EventID string // provider event ID, used as the idempotency key; may be empty
}

// NewUser is a chat message carrying the session-start command.
type NewUser struct {
	UserID    int64
	FirstName string
}

// GenerationRequest is a chat message whose text is a generation prompt.
type GenerationRequest struct {
	UserID    int64
	FirstName string
	Prompt    string
}

// Unrecognized is the sentinel for payloads the handler should drop.
type Unrecognized struct {
	Reason string
}

func (Payment) event()           {}
func (NewUser) event()           {}
func (GenerationRequest) event() {}
func (Unrecognized) event()      {}
