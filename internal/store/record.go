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

// ErrRecordFinished is returned when a finish call targets a record that has
// already left the pending state. Records are update-once: retried hosts get
// fresh rows in a new execution, never rewritten history.
var ErrRecordFinished = errors.New("store: record already finished")

// RecordStore persists per-host automation records for change-secret and
// push runs. Secret columns are codec-encrypted, bound to the account id.
type RecordStore struct {
	db    *gorm.DB
	codec *secretcodec.Codec
}

func NewRecordStore(db *gorm.DB, codec *secretcodec.Codec) *RecordStore {
	return &RecordStore{db: db, codec: codec}
}

// PendingRecord carries the plaintext secrets alongside the record shell; the
// store seals them on the way in.
type PendingRecord struct {
	OrgID       string
	ExecutionID string
	AssetID     string
	AccountID   string
	OldSecret   string
	NewSecret   string
}

// CreateChangePending inserts pending change-secret rows in one transaction,
// before any remote call is dispatched. Returns the rows keyed by account id
// for the run's resume map.
func (s *RecordStore) CreateChangePending(ctx context.Context, pending []PendingRecord) (map[string]*model.ChangeSecretRecord, error) {
	byAccount := make(map[string]*model.ChangeSecretRecord, len(pending))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pending {
			rec := &model.ChangeSecretRecord{
				OrgID:       p.OrgID,
				ExecutionID: p.ExecutionID,
				AssetID:     p.AssetID,
				AccountID:   p.AccountID,
			}
			var err error
			if rec.OldSecret, err = s.sealBytes(p.AccountID, p.OldSecret); err != nil {
				return err
			}
			if rec.NewSecret, err = s.sealBytes(p.AccountID, p.NewSecret); err != nil {
				return err
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			byAccount[p.AccountID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return byAccount, nil
}

// CreatePushPending is the push-flavored counterpart of CreateChangePending.
func (s *RecordStore) CreatePushPending(ctx context.Context, pending []PendingRecord) (map[string]*model.PushSecretRecord, error) {
	byAccount := make(map[string]*model.PushSecretRecord, len(pending))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pending {
			rec := &model.PushSecretRecord{
				OrgID:       p.OrgID,
				ExecutionID: p.ExecutionID,
				AssetID:     p.AssetID,
				AccountID:   p.AccountID,
			}
			var err error
			if rec.OldSecret, err = s.sealBytes(p.AccountID, p.OldSecret); err != nil {
				return err
			}
			if rec.NewSecret, err = s.sealBytes(p.AccountID, p.NewSecret); err != nil {
				return err
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			byAccount[p.AccountID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return byAccount, nil
}

// FinishChange settles one pending change record. hostErr nil marks success,
// anything else failed with the error text preserved.
func (s *RecordStore) FinishChange(ctx context.Context, recordID string, hostErr error) error {
	return s.finish(ctx, &model.ChangeSecretRecord{}, recordID, hostErr)
}

// FinishPush settles one pending push record.
func (s *RecordStore) FinishPush(ctx context.Context, recordID string, hostErr error) error {
	return s.finish(ctx, &model.PushSecretRecord{}, recordID, hostErr)
}

func (s *RecordStore) finish(ctx context.Context, table interface{}, recordID string, hostErr error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        model.RecordStatusSuccess,
		"date_finished": &now,
	}
	if hostErr != nil {
		updates["status"] = model.RecordStatusFailed
		updates["error"] = hostErr.Error()
	}

	// The status guard makes the settle idempotent-safe: a late duplicate
	// callback cannot rewrite a finished record.
	res := s.db.WithContext(ctx).Model(table).
		Where("id = ? AND status = ?", recordID, model.RecordStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordFinished
	}
	return nil
}

// ChangeRecordsByExecution returns a run's change records keyed by account
// id, for resuming an interrupted execution.
func (s *RecordStore) ChangeRecordsByExecution(ctx context.Context, executionID string) (map[string]*model.ChangeSecretRecord, error) {
	var rows []*model.ChangeSecretRecord
	err := s.db.WithContext(ctx).Where("execution_id = ?", executionID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byAccount := make(map[string]*model.ChangeSecretRecord, len(rows))
	for _, row := range rows {
		byAccount[row.AccountID] = row
	}
	return byAccount, nil
}

// PushRecordsByExecution returns a run's push records keyed by account id.
func (s *RecordStore) PushRecordsByExecution(ctx context.Context, executionID string) (map[string]*model.PushSecretRecord, error) {
	var rows []*model.PushSecretRecord
	err := s.db.WithContext(ctx).Where("execution_id = ?", executionID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byAccount := make(map[string]*model.PushSecretRecord, len(rows))
	for _, row := range rows {
		byAccount[row.AccountID] = row
	}
	return byAccount, nil
}

// ChangeHistory lists an account's rotation records, newest first.
func (s *RecordStore) ChangeHistory(ctx context.Context, accountID string, limit int) ([]*model.ChangeSecretRecord, error) {
	var rows []*model.ChangeSecretRecord
	q := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("date_start DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PushHistory lists an account's push records, newest first.
func (s *RecordStore) PushHistory(ctx context.Context, accountID string, limit int) ([]*model.PushSecretRecord, error) {
	var rows []*model.PushSecretRecord
	q := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("date_start DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// RecordSecrets decrypts the secret pair of a settled record for operator
// history queries.
func (s *RecordStore) RecordSecrets(accountID string, oldSealed, newSealed []byte) (oldSecret, newSecret string, err error) {
	if oldSecret, err = s.unsealBytes(accountID, oldSealed); err != nil {
		return "", "", err
	}
	if newSecret, err = s.unsealBytes(accountID, newSealed); err != nil {
		return "", "", err
	}
	return oldSecret, newSecret, nil
}

func (s *RecordStore) sealBytes(accountID, secret string) ([]byte, error) {
	if secret == "" {
		return nil, nil
	}
	packed, err := s.codec.Encrypt([]byte(accountID), []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("seal record secret for account %s: %w", accountID, err)
	}
	// bytea columns carry the base64 form so record rows and account rows
	// share one representation.
	return []byte(base64.StdEncoding.EncodeToString(packed)), nil
}

func (s *RecordStore) unsealBytes(accountID string, sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	packed, err := base64.StdEncoding.DecodeString(string(sealed))
	if err != nil {
		return "", fmt.Errorf("unseal record secret for account %s: %w", accountID, err)
	}
	plain, err := s.codec.Decrypt([]byte(accountID), packed)
	if err != nil {
		return "", fmt.Errorf("unseal record secret for account %s: %w", accountID, err)
	}
	return string(plain), nil
}
