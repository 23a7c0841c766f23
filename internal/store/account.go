package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretcodec"
)

// ErrAccountNotFound is returned when an account id resolves to no row.
var ErrAccountNotFound = errors.New("store: account not found")

// AccountStore reads and writes accounts. The _secret column is stored
// codec-encrypted, bound to the account id, and base64-encoded for the text
// column; plaintext never reaches the driver.
type AccountStore struct {
	db    *gorm.DB
	codec *secretcodec.Codec
}

func NewAccountStore(db *gorm.DB, codec *secretcodec.Codec) *AccountStore {
	return &AccountStore{db: db, codec: codec}
}

// Get loads one account with its su-from relation.
func (s *AccountStore) Get(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	err := s.db.WithContext(ctx).Preload("SuFrom").First(&acct, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// ByAsset loads every live account on one asset.
func (s *AccountStore) ByAsset(ctx context.Context, assetID string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := s.db.WithContext(ctx).
		Preload("SuFrom").
		Where("asset_id = ?", assetID).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// ByAssets loads accounts for a batch of assets, grouped by asset id. One
// query regardless of batch size.
func (s *AccountStore) ByAssets(ctx context.Context, assetIDs []string) (map[string][]*model.Account, error) {
	grouped := make(map[string][]*model.Account, len(assetIDs))
	if len(assetIDs) == 0 {
		return grouped, nil
	}

	var accounts []*model.Account
	err := s.db.WithContext(ctx).
		Preload("SuFrom").
		Where("asset_id IN ?", assetIDs).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	for _, acct := range accounts {
		grouped[acct.AssetID] = append(grouped[acct.AssetID], acct)
	}
	return grouped, nil
}

// Create inserts an account, encrypting the secret if one is given.
func (s *AccountStore) Create(ctx context.Context, acct *model.Account, secret string) error {
	if acct.ID == "" {
		// The id is the encryption AAD, so it must exist before sealing.
		if err := acct.BeforeCreate(nil); err != nil {
			return err
		}
	}
	if secret != "" {
		sealed, err := s.seal(acct.ID, secret)
		if err != nil {
			return err
		}
		acct.Secret = &sealed
	}
	return s.db.WithContext(ctx).Create(acct).Error
}

// SetSecret replaces the account's secret material and bumps the version.
// The vault facade is responsible for clearing the column again once the
// value is committed to a non-local backend.
func (s *AccountStore) SetSecret(ctx context.Context, id, secret string) error {
	sealed, err := s.seal(id, secret)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"_secret":        sealed,
			"saved_to_vault": false,
			"version":        gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SecretField returns the decrypted secret column, empty when the column is
// cleared. Implements the local vault backend's row access.
func (s *AccountStore) SecretField(ctx context.Context, id string) (string, error) {
	var acct model.Account
	err := s.db.WithContext(ctx).Select("id", "_secret").First(&acct, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	if !acct.HasSecret() {
		return "", nil
	}
	return s.unseal(id, *acct.Secret)
}

// ClearSecretField drops the secret column and flips the vault marker. Called
// by the vault facade after a successful write to a non-local backend.
func (s *AccountStore) ClearSecretField(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"_secret":        nil,
			"saved_to_vault": true,
		}).Error
}

// MarkVerified records the outcome of a verify run for one account.
func (s *AccountStore) MarkVerified(ctx context.Context, id string, conn model.Connectivity) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"connectivity":  conn,
			"date_verified": &now,
		}).Error
}

// SoftDelete removes the account from the live set while keeping the row for
// audit.
func (s *AccountStore) SoftDelete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.Account{}, "id = ?", id).Error
}

func (s *AccountStore) seal(accountID, secret string) (string, error) {
	packed, err := s.codec.Encrypt([]byte(accountID), []byte(secret))
	if err != nil {
		return "", fmt.Errorf("seal secret for account %s: %w", accountID, err)
	}
	return base64.StdEncoding.EncodeToString(packed), nil
}

func (s *AccountStore) unseal(accountID, sealed string) (string, error) {
	packed, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("unseal secret for account %s: %w", accountID, err)
	}
	plain, err := s.codec.Decrypt([]byte(accountID), packed)
	if err != nil {
		return "", fmt.Errorf("unseal secret for account %s: %w", accountID, err)
	}
	return string(plain), nil
}
