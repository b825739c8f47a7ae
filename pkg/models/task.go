package models

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
)

// AllTaskStatuses lists the valid statuses in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusBlocked,
	TaskStatusCompleted,
}

// ParseTaskStatus canonicalizes a status string (case-insensitive).
func ParseTaskStatus(s string) (TaskStatus, error) {
	canonical := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, status := range AllTaskStatuses {
		if status == canonical {
			return status, nil
		}
	}
	return "", fmt.Errorf("status must be one of: %s", statusList())
}

func statusList() string {
	names := make([]string, len(AllTaskStatuses))
	for i, s := range AllTaskStatuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

const (
	MaxTaskNameLength = 255
	MinPriority       = 0
	MaxPriority       = 10
)

type Task struct {
	ID            string     `json:"id"`
	FeatureID     string     `json:"feature_id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Specification string     `json:"specification"`
	Priority      int        `json:"priority"`
	TestsRequired bool       `json:"tests_required"`
	Status        TaskStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`

	// FeatureName is a helper field for joined queries
	FeatureName string `json:"feature_name,omitempty"`
}

// TaskPatch carries a partial update: only non-nil fields are applied.
// Status is the raw caller-supplied value and is canonicalized on apply.
type TaskPatch struct {
	Description   *string `json:"description,omitempty"`
	Specification *string `json:"specification,omitempty"`
	Status        *string `json:"status,omitempty"`
	Priority      *int    `json:"priority,omitempty"`
	TestsRequired *bool   `json:"tests_required,omitempty"`
}

// IsZero reports whether the patch sets no fields.
func (p TaskPatch) IsZero() bool {
	return p.Description == nil && p.Specification == nil && p.Status == nil &&
		p.Priority == nil && p.TestsRequired == nil
}
