package model

import (
	"strconv"
	"time"
)

// CacheEntry is the persisted result of computing one field for one item.
// At most one of the value slots is non-nil and it matches the field type.
type CacheEntry struct {
	ID                     string     `json:"id"`
	ItemID                 string     `json:"item_id"`
	FieldID                string     `json:"field_id"`
	ValueString            *string    `json:"value_string,omitempty"`
	ValueNumber            *float64   `json:"value_number,omitempty"`
	ValueBoolean           *bool      `json:"value_boolean,omitempty"`
	ValueDate              *time.Time `json:"value_date,omitempty"`
	EnrichmentErrorMessage *string    `json:"enrichment_error_message,omitempty"`
	FailedEnrichmentValue  *string    `json:"failed_enrichment_value,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// SlotKind names the value slot a cache entry populates.
type SlotKind int

const (
	SlotNone SlotKind = iota
	SlotString
	SlotNumber
	SlotBoolean
	SlotDate
)

// SlotFor returns the slot that holds values of the given field type.
func SlotFor(t FieldType) SlotKind {
	switch {
	case t.IsTextual():
		return SlotString
	case t == FieldTypeNumber:
		return SlotNumber
	case t == FieldTypeBoolean:
		return SlotBoolean
	case t.IsTemporal():
		return SlotDate
	}
	return SlotNone
}

// Slot reports which value slot is populated. Entries with more than one
// populated slot violate the cache invariant and report the first in
// string, number, boolean, date order.
func (c *CacheEntry) Slot() SlotKind {
	switch {
	case c.ValueString != nil:
		return SlotString
	case c.ValueNumber != nil:
		return SlotNumber
	case c.ValueBoolean != nil:
		return SlotBoolean
	case c.ValueDate != nil:
		return SlotDate
	}
	return SlotNone
}

// Populated counts the non-nil value slots.
func (c *CacheEntry) Populated() int {
	n := 0
	if c.ValueString != nil {
		n++
	}
	if c.ValueNumber != nil {
		n++
	}
	if c.ValueBoolean != nil {
		n++
	}
	if c.ValueDate != nil {
		n++
	}
	return n
}

// Value returns the first non-nil slot as a plain Go value: string, float64,
// bool or an RFC 3339 string for dates. Returns nil when no slot is set.
func (c *CacheEntry) Value() any {
	switch c.Slot() {
	case SlotString:
		return *c.ValueString
	case SlotNumber:
		return *c.ValueNumber
	case SlotBoolean:
		return *c.ValueBoolean
	case SlotDate:
		return c.ValueDate.UTC().Format(time.RFC3339)
	}
	return nil
}

// Display renders the cached value for prompt context according to the
// owning field's type. Booleans read as Yes/No.
func (c *CacheEntry) Display(t FieldType) (string, bool) {
	switch SlotFor(t) {
	case SlotString:
		if c.ValueString != nil {
			return *c.ValueString, true
		}
	case SlotNumber:
		if c.ValueNumber != nil {
			return strconv.FormatFloat(*c.ValueNumber, 'f', -1, 64), true
		}
	case SlotBoolean:
		if c.ValueBoolean != nil {
			if *c.ValueBoolean {
				return "Yes", true
			}
			return "No", true
		}
	case SlotDate:
		if c.ValueDate != nil {
			return c.ValueDate.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}
