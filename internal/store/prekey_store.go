package store

import (
	"context"

	"relaycore/internal/domain"

	"gorm.io/gorm/clause"
)

type PreKeyStore struct{ s *Store }

func (s *Store) PreKeys() *PreKeyStore { return &PreKeyStore{s: s} }

func (p *PreKeyStore) AddBatch(ctx context.Context, keys []domain.PreKey) error {
	if len(keys) == 0 {
		return nil
	}
	return p.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&keys).Error
}

func (p *PreKeyStore) ListIDs(ctx context.Context, owner, deviceID string) ([]int, error) {
	var ids []int
	err := p.s.DB.WithContext(ctx).
		Model(&domain.PreKey{}).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Order("key_id ASC").
		Pluck("key_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PreKeyStore) Count(ctx context.Context, owner, deviceID string) (int64, error) {
	var total int64
	err := p.s.DB.WithContext(ctx).
		Model(&domain.PreKey{}).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Count(&total).Error
	return total, err
}

func (p *PreKeyStore) Delete(ctx context.Context, owner, deviceID string, keyID int) error {
	return p.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ? AND key_id = ?", owner, deviceID, keyID).
		Delete(&domain.PreKey{}).Error
}

func (p *PreKeyStore) DeleteAllForDevice(ctx context.Context, owner, deviceID string) (int64, error) {
	res := p.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Delete(&domain.PreKey{})
	return res.RowsAffected, res.Error
}
