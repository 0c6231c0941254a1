package domain

import (
	"time"

	"github.com/google/uuid"
)

// Device is the registry row behind "all registered devices of a user".
// Rows are ensured whenever a device stores its identity key.
type Device struct {
	UserID    string    `gorm:"type:text;primaryKey"`
	DeviceID  string    `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type IdentityKey struct {
	Owner          string    `gorm:"type:text;primaryKey;column:owner"`
	DeviceID       string    `gorm:"type:text;primaryKey"`
	PublicKey      string    `gorm:"type:text;not null"`
	RegistrationID int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime"`
}

type SignedPreKey struct {
	Owner     string    `gorm:"type:text;primaryKey;column:owner"`
	DeviceID  string    `gorm:"type:text;primaryKey"`
	KeyID     int       `gorm:"primaryKey"`
	Data      string    `gorm:"type:text;not null"`
	Signature string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type PreKey struct {
	Owner     string    `gorm:"type:text;primaryKey;column:owner"`
	DeviceID  string    `gorm:"type:text;primaryKey"`
	KeyID     int       `gorm:"primaryKey"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type SenderKey struct {
	Owner     string    `gorm:"type:text;not null"`
	ChannelID string    `gorm:"type:text;primaryKey"`
	DeviceID  string    `gorm:"type:text;primaryKey"`
	Key       string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// Item is one stored direct message copy. One row exists per receiving
// device; channel items live in GroupItem instead.
type Item struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ItemID         string     `gorm:"type:text;not null;index"`
	Sender         string     `gorm:"type:text;not null"`
	SenderDevice   string     `gorm:"type:text;not null"`
	Receiver       string     `gorm:"type:text;not null;index:idx_items_receiver_device,priority:1"`
	ReceiverDevice string     `gorm:"type:text;not null;index:idx_items_receiver_device,priority:2"`
	Type           string     `gorm:"type:text;not null"`
	Payload        string     `gorm:"type:text;not null"`
	CipherType     string     `gorm:"type:text"`
	DeliveredAt    *time.Time `gorm:"type:timestamptz"`
	Read           bool       `gorm:"not null;default:false"`
	CreatedAt      time.Time  `gorm:"not null;autoCreateTime"`
}

// GroupItem is stored once per group message regardless of member count.
type GroupItem struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ItemID       string    `gorm:"type:text;not null;uniqueIndex"`
	ChannelID    string    `gorm:"type:text;not null;index"`
	Sender       string    `gorm:"type:text;not null"`
	SenderDevice string    `gorm:"type:text;not null"`
	Type         string    `gorm:"type:text;not null"`
	Payload      string    `gorm:"type:text;not null"`
	CipherType   string    `gorm:"type:text"`
	Timestamp    int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

type GroupItemRead struct {
	GroupItemID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"type:text;primaryKey"`
	DeviceID    string    `gorm:"type:text;primaryKey"`
	ReadAt      time.Time `gorm:"not null"`
}

type Channel struct {
	ID        string    `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type ChannelMember struct {
	ChannelID string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
