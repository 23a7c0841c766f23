package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/credops/credops/internal/model"
)

// GatheredAccountStore persists discovery results. Loads are keyed by
// username so the reconciliation engine can treat each asset as a map.
type GatheredAccountStore struct {
	db *gorm.DB
}

func NewGatheredAccountStore(db *gorm.DB) *GatheredAccountStore {
	return &GatheredAccountStore{db: db}
}

// ByAsset returns the known gathered accounts on one asset, keyed by
// username.
func (s *GatheredAccountStore) ByAsset(ctx context.Context, assetID string) (map[string]*model.GatheredAccount, error) {
	var rows []*model.GatheredAccount
	err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*model.GatheredAccount, len(rows))
	for _, row := range rows {
		byUser[row.Username] = row
	}
	return byUser, nil
}

// Delete removes a gathered row, after the remove automation has deleted the
// account on the remote side.
func (s *GatheredAccountStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.GatheredAccount{}, "id = ?", id).Error
}

// SaveBatch flushes a reconciliation batch in one transaction. Rows without
// an id are inserted, the rest updated in place; a mid-batch failure rolls
// the whole flush back so a retried gather sees consistent state.
func (s *GatheredAccountStore) SaveBatch(ctx context.Context, rows []*model.GatheredAccount) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if row.ID == "" {
				if err := tx.Create(row).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
