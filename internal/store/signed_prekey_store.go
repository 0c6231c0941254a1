package store

import (
	"context"

	"relaycore/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SignedPreKeyStore struct{ s *Store }

func (s *Store) SignedPreKeys() *SignedPreKeyStore { return &SignedPreKeyStore{s: s} }

// CreateIfAbsent never overwrites an existing key id; rotation uses a fresh id.
func (p *SignedPreKeyStore) CreateIfAbsent(ctx context.Context, key domain.SignedPreKey) error {
	return p.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&key).Error
}

func (p *SignedPreKeyStore) Latest(ctx context.Context, owner, deviceID string) (*domain.SignedPreKey, error) {
	var key domain.SignedPreKey
	err := p.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Order("created_at DESC, key_id DESC").
		First(&key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (p *SignedPreKeyStore) ListForDevice(ctx context.Context, owner, deviceID string) ([]domain.SignedPreKey, error) {
	var keys []domain.SignedPreKey
	err := p.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Order("created_at ASC, key_id ASC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *SignedPreKeyStore) Delete(ctx context.Context, owner, deviceID string, keyID int) error {
	return p.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ? AND key_id = ?", owner, deviceID, keyID).
		Delete(&domain.SignedPreKey{}).Error
}

func (p *SignedPreKeyStore) DeleteAllForDevice(ctx context.Context, owner, deviceID string) (int64, error) {
	res := p.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Delete(&domain.SignedPreKey{})
	return res.RowsAffected, res.Error
}
