package model

import "time"

// SuggestionStatus is the lifecycle state of an email suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "PENDING"
	SuggestionFound    SuggestionStatus = "FOUND"
	SuggestionNotFound SuggestionStatus = "NOT_FOUND"
	SuggestionManual   SuggestionStatus = "MANUAL"
	SuggestionImported SuggestionStatus = "IMPORTED"
)

// PatternManual marks a suggestion entered by hand or imported with a known email.
const PatternManual = "manual"

// Prospect is a named person at a company. Immutable once imported.
type Prospect struct {
	ID         int64     `json:"id"`
	Firstname  string    `json:"firstname"`
	Lastname   string    `json:"lastname"`
	Company    string    `json:"company"`
	CompanyKey string    `json:"company_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is the outreach template for one company.
type Message struct {
	ID         int64     `json:"id"`
	Company    string    `json:"company"`
	CompanyKey string    `json:"company_key"`
	Subject    string    `json:"subject"`
	BodyText   string    `json:"body_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Suggestion is the pipeline's best guess for one prospect.
type Suggestion struct {
	ProspectID int64            `json:"prospect_id"`
	Domain     string           `json:"domain,omitempty"`
	Pattern    string           `json:"pattern,omitempty"`
	Email      string           `json:"suggested_email,omitempty"`
	Confidence float64          `json:"confidence_score"`
	Status     SuggestionStatus `json:"status"`
	DebugNotes string           `json:"debug_notes,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// SuggestionRow joins a suggestion with its prospect, as read by the outbox builder.
type SuggestionRow struct {
	Suggestion
	Firstname  string `json:"firstname"`
	Lastname   string `json:"lastname"`
	Company    string `json:"company"`
	CompanyKey string `json:"company_key"`
}

// Name is a (first, last) pair used as inference evidence.
type Name struct {
	First string
	Last  string
}

// PatternEntry is the cached outcome of pattern inference for a domain.
type PatternEntry struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Debug      string  `json:"debug"`
}
