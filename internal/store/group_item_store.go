package store

import (
	"context"

	"relaycore/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GroupItemStore struct{ s *Store }

func (s *Store) GroupItems() *GroupItemStore { return &GroupItemStore{s: s} }

func (g *GroupItemStore) Create(ctx context.Context, item *domain.GroupItem) error {
	return g.s.DB.WithContext(ctx).Create(item).Error
}

func (g *GroupItemStore) GetByItemID(ctx context.Context, itemID string) (*domain.GroupItem, error) {
	var item domain.GroupItem
	if err := g.s.DB.WithContext(ctx).First(&item, "item_id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (g *GroupItemStore) Delete(ctx context.Context, id uuid.UUID) error {
	return g.s.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.GroupItem{}).Error
}

func (g *GroupItemStore) UpsertRead(ctx context.Context, read domain.GroupItemRead) error {
	return g.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_item_id"}, {Name: "user_id"}, {Name: "device_id"}},
			DoUpdates: clause.Assignments(map[string]any{"read_at": read.ReadAt}),
		}).
		Create(&read).Error
}

// CountReads counts acknowledgment rows for the item, one per
// (user, device) that confirmed the read.
func (g *GroupItemStore) CountReads(ctx context.Context, id uuid.UUID) (int64, error) {
	var total int64
	err := g.s.DB.WithContext(ctx).
		Model(&domain.GroupItemRead{}).
		Where("group_item_id = ?", id).
		Count(&total).Error
	return total, err
}

func (g *GroupItemStore) DeleteReads(ctx context.Context, id uuid.UUID) error {
	return g.s.DB.WithContext(ctx).
		Where("group_item_id = ?", id).
		Delete(&domain.GroupItemRead{}).Error
}
