package models

import "time"

// Gap statuses. Records are appended as pending and only ever move
// forward to resolved or dismissed; rows are never deleted.
const (
	GapStatusPending   = "pending"
	GapStatusResolved  = "resolved"
	GapStatusDismissed = "dismissed"
)

// GapRecord is one unresolved low-confidence query, kept for admin
// review of what the knowledge base is missing.
type GapRecord struct {
	ID         string
	Question   string
	Subject    string
	Confidence int
	Status     string
	Resolution string
	AdminNotes string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

type AnswerRecord struct {
	ID            string
	UserID        string
	Question      string
	Subject       string
	Explanation   string
	Example       string
	Relevance     string
	NextStep      string
	Confidence    int
	UsedRetrieval bool
	GapLogged     bool
	LatencyMS     int
	CreatedAt     time.Time
}

type AnswerSource struct {
	ID       int
	AnswerID string
	Source   string
	Position int
}
