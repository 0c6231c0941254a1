package store

import (
	"context"

	"relaycore/internal/domain"

	"gorm.io/gorm/clause"
)

type DeviceStore struct{ s *Store }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{s: s} }

func (d *DeviceStore) Ensure(ctx context.Context, userID, deviceID string) error {
	row := domain.Device{UserID: userID, DeviceID: deviceID}
	return d.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (d *DeviceStore) ListForUser(ctx context.Context, userID string) ([]domain.Device, error) {
	var devices []domain.Device
	err := d.s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}
