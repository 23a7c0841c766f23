package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordStatus is the lifecycle state of a per-host automation record.
type RecordStatus string

const (
	RecordStatusPending RecordStatus = "pending"
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusFailed  RecordStatus = "failed"
)

// ChangeSecretRecord is one row per (execution, asset, account) of a
// change-secret run. The row is created pending before the remote call is
// dispatched, so a crash mid-flight still leaves an auditable trace. Secret
// columns hold codec-encrypted values.
type ChangeSecretRecord struct {
	ID           string       `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID        string       `json:"org_id" gorm:"type:varchar(36);not null;index"`
	ExecutionID  string       `json:"execution_id" gorm:"type:char(36);not null;index;uniqueIndex:idx_change_exec_asset_account"`
	AssetID      string       `json:"asset_id" gorm:"type:char(36);not null;uniqueIndex:idx_change_exec_asset_account"`
	AccountID    string       `json:"account_id" gorm:"type:char(36);not null;index;uniqueIndex:idx_change_exec_asset_account"`
	OldSecret    []byte       `json:"-" gorm:"type:bytea;column:old_secret"`
	NewSecret    []byte       `json:"-" gorm:"type:bytea;column:new_secret"`
	Status       RecordStatus `json:"status" gorm:"type:varchar(16);not null"`
	Error        string       `json:"error" gorm:"type:text"`
	DateStart    time.Time    `json:"date_start" gorm:"not null"`
	DateFinished *time.Time   `json:"date_finished,omitempty"`
}

func (ChangeSecretRecord) TableName() string {
	return "change_secret_records"
}

func (r *ChangeSecretRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RecordStatusPending
	}
	if r.DateStart.IsZero() {
		r.DateStart = time.Now()
	}
	return nil
}

// PushSecretRecord is the push-flavored counterpart of ChangeSecretRecord.
// A distinct table keeps push history and rotation history independently
// queryable.
type PushSecretRecord struct {
	ID           string       `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID        string       `json:"org_id" gorm:"type:varchar(36);not null;index"`
	ExecutionID  string       `json:"execution_id" gorm:"type:char(36);not null;index;uniqueIndex:idx_push_exec_asset_account"`
	AssetID      string       `json:"asset_id" gorm:"type:char(36);not null;uniqueIndex:idx_push_exec_asset_account"`
	AccountID    string       `json:"account_id" gorm:"type:char(36);not null;index;uniqueIndex:idx_push_exec_asset_account"`
	OldSecret    []byte       `json:"-" gorm:"type:bytea;column:old_secret"`
	NewSecret    []byte       `json:"-" gorm:"type:bytea;column:new_secret"`
	Status       RecordStatus `json:"status" gorm:"type:varchar(16);not null"`
	Error        string       `json:"error" gorm:"type:text"`
	DateStart    time.Time    `json:"date_start" gorm:"not null"`
	DateFinished *time.Time   `json:"date_finished,omitempty"`
}

func (PushSecretRecord) TableName() string {
	return "push_secret_records"
}

func (r *PushSecretRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RecordStatusPending
	}
	if r.DateStart.IsZero() {
		r.DateStart = time.Now()
	}
	return nil
}
