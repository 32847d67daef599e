// Package connector holds the registry of external systems an automation can
// write to, the actions each system offers and the handling of their stored
// credentials.
package connector

import (
	"context"
	"time"
)

// Status is the outcome an action reports for one item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is what an action reports back for one item.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Item is the list item an action operates on. FieldValues are keyed by
// field id and hold string, float64, bool or time.Time values.
type Item struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	FieldValues map[string]any `json:"fieldValues"`
}

// Input is passed to Action.Execute.
type Input struct {
	Item         Item           `json:"item"`
	ActionConfig map[string]any `json:"actionConfig"`
}

// Config is a connector's decrypted settings.
type Config struct {
	BaseURL     string            `json:"baseUrl"`
	Credentials map[string]string `json:"-"`
}

// Action is one operation a connector type offers.
//
// Execute returns an error only for problems that prevent the attempt
// itself, such as an unreadable configuration. Failures reported by the
// remote system come back as a Result with StatusFailed.
type Action struct {
	ID            string
	Name          string
	Description   string
	DefaultConfig map[string]any
	Validate      func(actionConfig map[string]any) error
	Execute       func(ctx context.Context, cfg Config, in Input) (Result, error)
}

// Type describes a kind of external system.
type Type struct {
	ID              string
	Name            string
	Description     string
	SensitiveFields []string
	RequiredFields  []string
	Actions         []*Action
	TestConnection  func(ctx context.Context, cfg Config) error
}

func (t *Type) action(id string) *Action {
	for _, a := range t.Actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (t *Type) sensitive(field string) bool {
	for _, f := range t.SensitiveFields {
		if f == field {
			return true
		}
	}
	return false
}

// isoValue renders a field value the way it is sent to external systems.
func isoValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}
