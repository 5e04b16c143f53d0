package extractor

import (
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tally/internal/roster"
)

// Confidence is the model's self-reported match quality for one report.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Candidate is one report row as returned by the model. It is consumed by
// Reconcile and never stored as-is.
type Candidate struct {
	Name            string     `json:"name"`
	IsActive        bool       `json:"isActive"`
	Hours           *float64   `json:"hours,omitempty"`
	Studies         *float64   `json:"studies,omitempty"`
	Comment         string     `json:"comment,omitempty"`
	OriginalText    string     `json:"originalText,omitempty"`
	IsNew           bool       `json:"isNew"`
	MatchConfidence Confidence `json:"matchConfidence"`
	ReportedBy      string     `json:"reportedBy"`
	Reasoning       string     `json:"reasoning"`
}

// Answer is the provider-neutral shape every backend must produce.
type Answer struct {
	Reports   []Candidate `json:"reports"`
	Reasoning string      `json:"reasoning"`
}

// Provenance explains how a single report was matched. It lives only for
// the current call and has no place in the persisted roster types.
type Provenance struct {
	OriginalText    string     `json:"originalText,omitempty"`
	MatchConfidence Confidence `json:"matchConfidence"`
	ReportedBy      string     `json:"reportedBy"`
	Reasoning       string     `json:"reasoning"`
}

// Result is the output of one extraction call.
type Result struct {
	NewParticipants []roster.Participant    `json:"newPublishers"`
	Records         []roster.ActivityRecord `json:"reports"`
	Metadata        map[uuid.UUID]Provenance `json:"metadata"`
	Reasoning       string                  `json:"globalReasoning"`
}

// Prompts is the pair of instruction blocks sent to the model.
type Prompts struct {
	System string
	User   string
}
