package store

import (
	"context"

	"relaycore/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SenderKeyStore struct{ s *Store }

func (s *Store) SenderKeys() *SenderKeyStore { return &SenderKeyStore{s: s} }

func (k *SenderKeyStore) Upsert(ctx context.Context, key domain.SenderKey) error {
	return k.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}, {Name: "device_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"owner": key.Owner,
				"key":   key.Key,
			}),
		}).
		Create(&key).Error
}

func (k *SenderKeyStore) Get(ctx context.Context, channelID, deviceID string) (*domain.SenderKey, error) {
	var key domain.SenderKey
	if err := k.s.DB.WithContext(ctx).First(&key, "channel_id = ? AND device_id = ?", channelID, deviceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (k *SenderKeyStore) DeleteAllForDevice(ctx context.Context, owner, deviceID string) (int64, error) {
	res := k.s.DB.WithContext(ctx).
		Where("owner = ? AND device_id = ?", owner, deviceID).
		Delete(&domain.SenderKey{})
	return res.RowsAffected, res.Error
}
