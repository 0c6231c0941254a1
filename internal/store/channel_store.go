package store

import (
	"context"

	"relaycore/internal/domain"

	"gorm.io/gorm/clause"
)

type ChannelStore struct{ s *Store }

func (s *Store) Channels() *ChannelStore { return &ChannelStore{s: s} }

func (c *ChannelStore) Ensure(ctx context.Context, channelID string) error {
	row := domain.Channel{ID: channelID}
	return c.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (c *ChannelStore) AddMember(ctx context.Context, channelID, userID string) error {
	row := domain.ChannelMember{ChannelID: channelID, UserID: userID}
	return c.s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (c *ChannelStore) RemoveMember(ctx context.Context, channelID, userID string) error {
	return c.s.DB.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&domain.ChannelMember{}).Error
}

func (c *ChannelStore) Members(ctx context.Context, channelID string) ([]string, error) {
	var users []string
	err := c.s.DB.WithContext(ctx).
		Model(&domain.ChannelMember{}).
		Where("channel_id = ?", channelID).
		Order("user_id ASC").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (c *ChannelStore) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var total int64
	err := c.s.DB.WithContext(ctx).
		Model(&domain.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&total).Error
	return total > 0, err
}
