package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RiskKind classifies a detected account anomaly.
type RiskKind string

const (
	RiskNewFound             RiskKind = "new_found"
	RiskAccountLost          RiskKind = "account_lost"
	RiskAccountDeleted       RiskKind = "account_deleted"
	RiskGroupsChanged        RiskKind = "group_changed"
	RiskSudoersChanged       RiskKind = "sudoer_changed"
	RiskAuthorizedKeyChanged RiskKind = "authorized_key_changed"
	RiskPasswordExpired      RiskKind = "password_expired"
	RiskLongTimePassword     RiskKind = "long_time_password"
	RiskLongTimeNoLogin      RiskKind = "long_time_no_login"
)

// RiskStatus is the handling state of a risk row.
type RiskStatus string

const (
	RiskStatusPending   RiskStatus = "pending"
	RiskStatusConfirmed RiskStatus = "confirmed"
	RiskStatusIgnored   RiskStatus = "ignored"
)

// RiskSnapshot is one detection event appended to a risk's detail sequence.
type RiskSnapshot struct {
	DetectedAt time.Time         `json:"detected_at"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// AccountRisk is one detected anomaly for one (asset, username, kind) tuple.
// Repeated detections append to the Details sequence rather than inserting
// duplicate rows; the unique index enforces the invariant.
type AccountRisk struct {
	ID          string     `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID       string     `json:"org_id" gorm:"type:varchar(36);not null;index"`
	AssetID     string     `json:"asset_id" gorm:"type:char(36);not null;uniqueIndex:idx_risk_asset_username_kind"`
	Username    string     `json:"username" gorm:"type:varchar(128);not null;uniqueIndex:idx_risk_asset_username_kind"`
	Risk        RiskKind   `json:"risk" gorm:"type:varchar(32);not null;uniqueIndex:idx_risk_asset_username_kind"`
	Status      RiskStatus `json:"status" gorm:"type:varchar(16);not null"`
	Details     string     `json:"details" gorm:"type:text;not null"`
	DateUpdated time.Time  `json:"date_updated" gorm:"not null;autoUpdateTime"`
	DateCreated time.Time  `json:"date_created" gorm:"not null;autoCreateTime"`
}

func (AccountRisk) TableName() string {
	return "account_risks"
}

func (r *AccountRisk) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RiskStatusPending
	}
	if r.Details == "" {
		r.Details = "[]"
	}
	return nil
}

// Snapshots decodes the append-only detail sequence.
func (r *AccountRisk) Snapshots() []RiskSnapshot {
	var snaps []RiskSnapshot
	if r.Details != "" {
		_ = json.Unmarshal([]byte(r.Details), &snaps)
	}
	return snaps
}

// AppendSnapshot records one more detection event.
func (r *AccountRisk) AppendSnapshot(snap RiskSnapshot) error {
	snaps := append(r.Snapshots(), snap)
	raw, err := json.Marshal(snaps)
	if err != nil {
		return err
	}
	r.Details = string(raw)
	return nil
}
