package store

import (
	"context"
	"time"

	"relaycore/internal/domain"

	"github.com/google/uuid"
)

type ItemStore struct{ s *Store }

func (s *Store) Items() *ItemStore { return &ItemStore{s: s} }

func (i *ItemStore) Create(ctx context.Context, item *domain.Item) error {
	return i.s.DB.WithContext(ctx).Create(item).Error
}

func (i *ItemStore) PendingForDevice(ctx context.Context, receiver, receiverDevice string, limit, offset int) ([]domain.Item, error) {
	var items []domain.Item
	tx := i.s.DB.WithContext(ctx).
		Where("receiver = ? AND receiver_device = ?", receiver, receiverDevice).
		Order("created_at ASC, id ASC").
		Offset(offset)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (i *ItemStore) CountForDevice(ctx context.Context, receiver, receiverDevice string) (int64, error) {
	var total int64
	err := i.s.DB.WithContext(ctx).
		Model(&domain.Item{}).
		Where("receiver = ? AND receiver_device = ?", receiver, receiverDevice).
		Count(&total).Error
	return total, err
}

func (i *ItemStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return i.s.DB.WithContext(ctx).
		Model(&domain.Item{}).
		Where("id = ?", id).
		Update("delivered_at", at).Error
}

// Delete removes the receiver's own copy; rows belonging to other devices
// are untouched. Returns the number of rows removed.
func (i *ItemStore) Delete(ctx context.Context, itemID, receiver, receiverDevice string) (int64, error) {
	res := i.s.DB.WithContext(ctx).
		Where("item_id = ? AND receiver = ? AND receiver_device = ?", itemID, receiver, receiverDevice).
		Delete(&domain.Item{})
	return res.RowsAffected, res.Error
}
