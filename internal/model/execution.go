package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutomationType tags which concrete manager runs an execution.
type AutomationType string

const (
	AutomationChangeSecret AutomationType = "change_secret"
	AutomationPush         AutomationType = "push"
	AutomationVerify       AutomationType = "verify"
	AutomationRemove       AutomationType = "remove"
	AutomationGather       AutomationType = "gather"
)

// ExecutionStatus is the lifecycle state of an automation execution.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// AutomationExecution is one run of an automation manager. The snapshot is
// the resolved policy at start time; it never changes once the run begins,
// so concurrent policy edits cannot affect a running execution.
type AutomationExecution struct {
	ID           string          `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID        string          `json:"org_id" gorm:"type:varchar(36);not null;index"`
	Type         AutomationType  `json:"type" gorm:"type:varchar(32);not null"`
	Status       ExecutionStatus `json:"status" gorm:"type:varchar(16);not null"`
	Snapshot     string          `json:"snapshot" gorm:"type:text;not null"`
	Reason       string          `json:"reason" gorm:"type:text"`
	Summary      string          `json:"summary" gorm:"type:text"`
	DateStart    time.Time       `json:"date_start" gorm:"not null"`
	DateFinished *time.Time      `json:"date_finished,omitempty"`
}

func (AutomationExecution) TableName() string {
	return "automation_executions"
}

func (e *AutomationExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ExecutionStatusPending
	}
	if e.DateStart.IsZero() {
		e.DateStart = time.Now()
	}
	return nil
}

// ExecutionSummary holds the free-form result counters of a finished run.
type ExecutionSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	NewFound  int `json:"new_found,omitempty"`
	Lost      int `json:"lost,omitempty"`
	Risks     int `json:"risks,omitempty"`
}

// SetSummary encodes the result counters onto the row.
func (e *AutomationExecution) SetSummary(s ExecutionSummary) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	e.Summary = string(raw)
}

// GetSummary decodes the result counters, zero-valued when unset.
func (e *AutomationExecution) GetSummary() ExecutionSummary {
	var s ExecutionSummary
	if e.Summary != "" {
		_ = json.Unmarshal([]byte(e.Summary), &s)
	}
	return s
}
