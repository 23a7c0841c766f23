package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/credops/credops/internal/model"
)

// ErrTemplateNotFound is returned when a template id resolves to no row.
var ErrTemplateNotFound = errors.New("store: account template not found")

// AccountTemplateStore persists reusable account archetypes.
type AccountTemplateStore struct {
	db *gorm.DB
}

func NewAccountTemplateStore(db *gorm.DB) *AccountTemplateStore {
	return &AccountTemplateStore{db: db}
}

func (s *AccountTemplateStore) Get(ctx context.Context, id string) (*model.AccountTemplate, error) {
	var tpl model.AccountTemplate
	err := s.db.WithContext(ctx).First(&tpl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *AccountTemplateStore) List(ctx context.Context, orgID string) ([]*model.AccountTemplate, error) {
	var tpls []*model.AccountTemplate
	err := s.db.WithContext(ctx).Where("org_id = ?", orgID).Order("name").Find(&tpls).Error
	if err != nil {
		return nil, err
	}
	return tpls, nil
}

func (s *AccountTemplateStore) Create(ctx context.Context, tpl *model.AccountTemplate) error {
	return s.db.WithContext(ctx).Create(tpl).Error
}
