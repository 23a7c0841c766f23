package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/credops/credops/internal/model"
)

// RiskStore persists detected account anomalies. A risk row is unique per
// (asset, username, kind); repeated detections append to the row's snapshot
// sequence instead of inserting duplicates.
type RiskStore struct {
	db *gorm.DB
}

func NewRiskStore(db *gorm.DB) *RiskStore {
	return &RiskStore{db: db}
}

// ByAssets preloads the existing risks for a batch of assets so the
// reconciliation engine can upsert without per-row lookups.
func (s *RiskStore) ByAssets(ctx context.Context, assetIDs []string) ([]*model.AccountRisk, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	var risks []*model.AccountRisk
	err := s.db.WithContext(ctx).Where("asset_id IN ?", assetIDs).Find(&risks).Error
	if err != nil {
		return nil, err
	}
	return risks, nil
}

// Record upserts one detection: an existing (asset, username, kind) row gets
// the snapshot appended, otherwise a new pending row is created.
func (s *RiskStore) Record(ctx context.Context, risk *model.AccountRisk, snap model.RiskSnapshot) error {
	return s.record(s.db.WithContext(ctx), risk, snap)
}

// RecordBatch flushes a batch of detections in one transaction.
func (s *RiskStore) RecordBatch(ctx context.Context, detections []Detection) error {
	if len(detections) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range detections {
			if err := s.record(tx, d.Risk, d.Snapshot); err != nil {
				return err
			}
		}
		return nil
	})
}

// Detection pairs a risk row with the snapshot to append to it.
type Detection struct {
	Risk     *model.AccountRisk
	Snapshot model.RiskSnapshot
}

func (s *RiskStore) record(tx *gorm.DB, risk *model.AccountRisk, snap model.RiskSnapshot) error {
	if snap.DetectedAt.IsZero() {
		snap.DetectedAt = time.Now()
	}

	if risk.ID != "" {
		if err := risk.AppendSnapshot(snap); err != nil {
			return err
		}
		return tx.Model(risk).Updates(map[string]interface{}{
			"details": risk.Details,
		}).Error
	}

	if err := risk.AppendSnapshot(snap); err != nil {
		return err
	}
	return tx.Create(risk).Error
}
