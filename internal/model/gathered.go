package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GatherStatus is the reconciliation status of a gathered account.
type GatherStatus string

const (
	// GatherStatusPending needs operator confirmation before the account is
	// trusted.
	GatherStatusPending GatherStatus = "pending"

	// GatherStatusConfirmed matches an account in the system of record.
	GatherStatusConfirmed GatherStatus = "confirmed"

	// GatherStatusIgnored is terminal unless manually reset by an operator.
	GatherStatusIgnored GatherStatus = "ignored"
)

// GatheredAccount is an account observed on a remote asset during discovery.
// Rows are created and updated only by the reconciliation engine.
type GatheredAccount struct {
	ID                  string       `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID               string       `json:"org_id" gorm:"type:varchar(36);not null;index"`
	AssetID             string       `json:"asset_id" gorm:"type:char(36);not null;uniqueIndex:idx_gathered_asset_username"`
	Username            string       `json:"username" gorm:"type:varchar(128);not null;uniqueIndex:idx_gathered_asset_username"`
	Status              GatherStatus `json:"status" gorm:"type:varchar(16);not null"`
	PresentRemote       bool         `json:"present_remote" gorm:"not null"`
	PresentLocal        bool         `json:"present_local" gorm:"not null"`
	AddressLastLogin    string       `json:"address_last_login" gorm:"type:varchar(64)"`
	DateLastLogin       *time.Time   `json:"date_last_login,omitempty"`
	DatePasswordChange  *time.Time   `json:"date_password_change,omitempty"`
	DatePasswordExpired *time.Time   `json:"date_password_expired,omitempty"`
	Detail              string       `json:"detail" gorm:"type:text"`
	DateUpdated         time.Time    `json:"date_updated" gorm:"not null;autoUpdateTime"`
	DateCreated         time.Time    `json:"date_created" gorm:"not null;autoCreateTime"`
}

func (GatheredAccount) TableName() string {
	return "gathered_accounts"
}

func (g *GatheredAccount) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = GatherStatusPending
	}
	return nil
}

// DetailFields decodes the free-form detail blob (groups, sudoers,
// authorized keys and anything else the platform filter emitted).
func (g *GatheredAccount) DetailFields() map[string]string {
	fields := map[string]string{}
	if g.Detail != "" {
		_ = json.Unmarshal([]byte(g.Detail), &fields)
	}
	return fields
}

// SetDetailFields encodes the detail blob.
func (g *GatheredAccount) SetDetailFields(fields map[string]string) {
	if len(fields) == 0 {
		g.Detail = ""
		return
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return
	}
	g.Detail = string(raw)
}
