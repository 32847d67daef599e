package model

import "time"

// AutomationItemStatus is the state of one item within an automation.
type AutomationItemStatus string

const (
	AutomationItemPending    AutomationItemStatus = "PENDING"
	AutomationItemProcessing AutomationItemStatus = "PROCESSING"
	AutomationItemSuccess    AutomationItemStatus = "SUCCESS"
	AutomationItemFailed     AutomationItemStatus = "FAILED"
	AutomationItemSkipped    AutomationItemStatus = "SKIPPED"
)

// BatchStatus is the state of an automation batch.
type BatchStatus string

const (
	BatchPending             BatchStatus = "PENDING"
	BatchRunning             BatchStatus = "RUNNING"
	BatchCompleted           BatchStatus = "COMPLETED"
	BatchCompletedWithErrors BatchStatus = "COMPLETED_WITH_ERRORS"
)

// ExecutionStatus is the recorded outcome of one action attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionWarning ExecutionStatus = "WARNING"
	ExecutionFailed  ExecutionStatus = "FAILED"
	ExecutionSkipped ExecutionStatus = "SKIPPED"
)

// Automation maps cached field values of a list onto a connector action.
type Automation struct {
	ID              string         `json:"id"`
	ListID          string         `json:"list_id"`
	WorkspaceID     string         `json:"workspace_id"`
	Name            string         `json:"name"`
	ConnectorID     string         `json:"connector_id"`
	ConnectorType   string         `json:"connector_type"`
	ConnectorAction string         `json:"connector_action"`
	ActionConfig    map[string]any `json:"action_config"`
}

// Connector is a configured external system. Config holds the connector's
// settings with sensitive values encrypted at rest.
type Connector struct {
	ID            string         `json:"id"`
	WorkspaceID   string         `json:"workspace_id"`
	ConnectorType string         `json:"connector_type"`
	BaseURL       string         `json:"base_url,omitempty"`
	Config        map[string]any `json:"config"`
}

// AutomationItem is one row per (automation, list item).
type AutomationItem struct {
	ID           string               `json:"id"`
	AutomationID string               `json:"automation_id"`
	ListItemID   string               `json:"list_item_id"`
	ItemName     string               `json:"item_name"`
	InScope      bool                 `json:"in_scope"`
	Status       AutomationItemStatus `json:"status"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// AutomationBatch groups one processing run of an automation.
type AutomationBatch struct {
	ID             string      `json:"id"`
	AutomationID   string      `json:"automation_id"`
	Status         BatchStatus `json:"status"`
	ItemsTotal     int         `json:"items_total"`
	ItemsProcessed int         `json:"items_processed"`
	ItemsSuccess   int         `json:"items_success"`
	ItemsWarning   int         `json:"items_warning"`
	ItemsFailed    int         `json:"items_failed"`
	ItemsSkipped   int         `json:"items_skipped"`
	TriggeredBy    string      `json:"triggered_by,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Execution is the immutable audit record of one attempt on an automation item.
type Execution struct {
	ID               string          `json:"id"`
	AutomationItemID string          `json:"automation_item_id"`
	BatchID          string          `json:"batch_id"`
	Status           ExecutionStatus `json:"status"`
	Input            map[string]any  `json:"input,omitempty"`
	Output           map[string]any  `json:"output,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// ExecutionCounts aggregates a batch's executions by status.
type ExecutionCounts struct {
	Success int `json:"success"`
	Warning int `json:"warning"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total is the number of executions counted.
func (c ExecutionCounts) Total() int {
	return c.Success + c.Warning + c.Failed + c.Skipped
}

// FinalStatus is COMPLETED unless any execution failed or warned.
func (c ExecutionCounts) FinalStatus() BatchStatus {
	if c.Failed > 0 || c.Warning > 0 {
		return BatchCompletedWithErrors
	}
	return BatchCompleted
}
