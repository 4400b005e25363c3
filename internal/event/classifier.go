package event

import (
	"encoding/json"
	"strconv"
	"strings"
)

// payload covers both shapes arriving on the shared webhook endpoint: Stripe
// checkout events and Telegram message updates.
type payload struct {
	ID   string `json:"id"`
	Data struct {
		Object struct {
			ClientReferenceID string `json:"client_reference_id"`
		} `json:"object"`
	} `json:"data"`
	Message struct {
		Text string `json:"text"`
		From struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
		} `json:"from"`
	} `json:"message"`
}

// Classify inspects one raw webhook body and produces a typed event. It never
// fails: anything malformed or incomplete comes back as Unrecognized so the
// handler can acknowledge and drop it.
//
// Payment-shaped bodies win: a payload counts as a payment confirmation iff
// data.object.client_reference_id is present and non-empty. Everything else
// falls through to message classification.
func Classify(body []byte) Event {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Unrecognized{Reason: "malformed json"}
	}

	if ref := strings.TrimSpace(p.Data.Object.ClientReferenceID); ref != "" {
		userID, err := strconv.ParseInt(ref, 10, 64)
		if err != nil || userID == 0 {
			// A present reference marks this as a payment event; when it
			// cannot name an account the event is dropped rather than
			// misread as a chat message.
			return Unrecognized{Reason: "client_reference_id is not a user id"}
		}
		return Payment{UserID: userID, EventID: p.ID}
	}

	if p.Message.From.ID == 0 {
		return Unrecognized{Reason: "missing sender id"}
	}
	text := strings.TrimSpace(p.Message.Text)
	if text == "" {
		return Unrecognized{Reason: "empty message text"}
	}

	name := p.Message.From.FirstName
	if name == "" {
		name = DefaultName
	}

	if text == StartCommand {
		return NewUser{UserID: p.Message.From.ID, FirstName: name}
	}
	return GenerationRequest{UserID: p.Message.From.ID, FirstName: name, Prompt: text}
}
