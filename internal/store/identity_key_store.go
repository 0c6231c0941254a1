package store

import (
	"context"

	"relaycore/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdentityKeyStore struct{ s *Store }

func (s *Store) IdentityKeys() *IdentityKeyStore { return &IdentityKeyStore{s: s} }

func (i *IdentityKeyStore) Upsert(ctx context.Context, key domain.IdentityKey) error {
	return i.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "owner"}, {Name: "device_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"public_key":      key.PublicKey,
				"registration_id": key.RegistrationID,
			}),
		}).
		Create(&key).Error
}

func (i *IdentityKeyStore) Get(ctx context.Context, owner, deviceID string) (*domain.IdentityKey, error) {
	var key domain.IdentityKey
	if err := i.s.DB.WithContext(ctx).First(&key, "owner = ? AND device_id = ?", owner, deviceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &key, nil
}
