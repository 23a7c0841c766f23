// Package model defines the persisted entities of the credential-automation
// core. Accounts are the system of record for credentials; gathered accounts
// and risks track discovery state on remote assets.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SecretType is the kind of secret an account carries.
type SecretType string

const (
	SecretTypePassword SecretType = "password"
	SecretTypeSSHKey   SecretType = "ssh_key"
)

// Connectivity is the last observed reachability of an account.
type Connectivity string

const (
	ConnectivityOK      Connectivity = "ok"
	ConnectivityUnknown Connectivity = "unknown"
	ConnectivityError   Connectivity = "error"
)

// Score maps connectivity onto an ordering used for account selection
// tie-breaks: ok beats unknown beats error.
func (c Connectivity) Score() int {
	switch c {
	case ConnectivityOK:
		return 2
	case ConnectivityUnknown:
		return 1
	default:
		return 0
	}
}

// Account is one usable credential on one asset. The secret column holds
// material only until it is committed to a vault backend; with a non-local
// backend the column is cleared immediately after a successful vault write.
type Account struct {
	ID           string         `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID        string         `json:"org_id" gorm:"type:varchar(36);not null;index"`
	Name         string         `json:"name" gorm:"type:varchar(128);not null;uniqueIndex:idx_account_name_asset"`
	AssetID      string         `json:"asset_id" gorm:"type:char(36);not null;uniqueIndex:idx_account_name_asset;uniqueIndex:idx_account_username_asset_secret"`
	Username     string         `json:"username" gorm:"type:varchar(128);not null;index;uniqueIndex:idx_account_username_asset_secret"`
	SecretType   SecretType     `json:"secret_type" gorm:"type:varchar(16);not null;uniqueIndex:idx_account_username_asset_secret"`
	Secret       *string        `json:"secret,omitempty" gorm:"type:text;column:_secret"`
	SavedToVault bool           `json:"saved_to_vault" gorm:"not null;default:false"`
	Privileged   bool           `json:"privileged" gorm:"not null"`
	Connectivity Connectivity   `json:"connectivity" gorm:"type:varchar(16);not null"`
	Version      int            `json:"version" gorm:"not null"`
	Source       string         `json:"source" gorm:"type:varchar(30);not null"`
	SuFromID     *string        `json:"su_from_id,omitempty" gorm:"type:char(36)"`
	SuFrom       *Account       `json:"-" gorm:"foreignKey:SuFromID"`
	DateVerified *time.Time     `json:"date_verified,omitempty"`
	DateUpdated  time.Time      `json:"date_updated" gorm:"not null;autoUpdateTime"`
	DateCreated  time.Time      `json:"date_created" gorm:"not null;autoCreateTime"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Connectivity == "" {
		a.Connectivity = ConnectivityUnknown
	}
	return nil
}

// HasSecret reports whether secret material is present in the system of
// record column.
func (a *Account) HasSecret() bool {
	return a.Secret != nil && *a.Secret != ""
}

// AccountTemplate is a reusable account archetype used to bulk-provision
// accounts across assets; it is never executed directly.
type AccountTemplate struct {
	ID             string     `json:"id" gorm:"type:char(36);primaryKey"`
	OrgID          string     `json:"org_id" gorm:"type:varchar(36);not null;index"`
	Name           string     `json:"name" gorm:"type:varchar(128);not null;uniqueIndex"`
	Username       string     `json:"username" gorm:"type:varchar(128);not null"`
	SecretType     SecretType `json:"secret_type" gorm:"type:varchar(16);not null"`
	SecretStrategy string     `json:"secret_strategy" gorm:"type:varchar(16);not null"`
	Secret         *string    `json:"secret,omitempty" gorm:"type:text;column:_secret"`
	Privileged     bool       `json:"privileged" gorm:"not null"`
	SuFromUsername *string    `json:"su_from_username,omitempty" gorm:"type:varchar(128)"`
	Platforms      string     `json:"platforms" gorm:"type:text;not null"`
	DateCreated    time.Time  `json:"date_created" gorm:"not null;autoCreateTime"`
}

func (AccountTemplate) TableName() string {
	return "account_templates"
}

func (t *AccountTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
