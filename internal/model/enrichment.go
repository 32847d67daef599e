package model

import "time"

// EnrichmentStatus is the lifecycle state of an enrichment queue entry.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Terminal reports whether the status ends the entry's lifecycle.
func (s EnrichmentStatus) Terminal() bool {
	return s == EnrichmentCompleted || s == EnrichmentFailed
}

// EnrichmentEntry is one unit of work computing a single cache entry.
type EnrichmentEntry struct {
	ID          string           `json:"id"`
	ListID      string           `json:"list_id"`
	FieldID     string           `json:"field_id"`
	ItemID      string           `json:"item_id"`
	Status      EnrichmentStatus `json:"status"`
	Priority    int              `json:"priority"`
	RequestedAt time.Time        `json:"requested_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// EnrichmentEvent is published to list subscribers as entries progress.
type EnrichmentEvent struct {
	EntryID string           `json:"entry_id"`
	ListID  string           `json:"list_id"`
	FieldID string           `json:"field_id"`
	ItemID  string           `json:"item_id"`
	Status  EnrichmentStatus `json:"status"`
	Value   any              `json:"value,omitempty"`
	// EnrichmentError is set on completed events whose value was rejected.
	EnrichmentError string    `json:"enrichment_error,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}
