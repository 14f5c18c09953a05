package model

import "time"

// OutboxStatus is the send state of an outbox entry.
type OutboxStatus string

const (
	OutboxReady   OutboxStatus = "READY"
	OutboxError   OutboxStatus = "ERROR"
	OutboxSent    OutboxStatus = "SENT"
	OutboxBounced OutboxStatus = "BOUNCED"
	OutboxInvalid OutboxStatus = "INVALID"
)

// Outbox build error codes, comma-joined in OutboxEntry.ErrorMessage.
const (
	ErrEmailNotFound   = "EMAIL_NOT_FOUND"
	ErrInvalidEmail    = "INVALID_EMAIL"
	ErrMessageNotFound = "MESSAGE_NOT_FOUND"
	ErrEmptySubject    = "EMPTY_SUBJECT"
	ErrEmptyBody       = "EMPTY_BODY"
	ErrDuplicateEmail  = "DUPLICATE_EMAIL"
)

// OutboxEntry is one queued message, derived from a suggestion and a company message.
type OutboxEntry struct {
	ID           int64        `json:"id"`
	Company      string       `json:"company"`
	CompanyKey   string       `json:"company_key"`
	Email        string       `json:"email"`
	Firstname    string       `json:"firstname"`
	Lastname     string       `json:"lastname"`
	Subject      string       `json:"subject"`
	BodyText     string       `json:"body_text"`
	Status       OutboxStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	SentAt       *time.Time   `json:"sent_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// OutboxFilter narrows outbox listings.
type OutboxFilter struct {
	Status OutboxStatus
	Search string
	Limit  int
}
