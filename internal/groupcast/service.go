// Package groupcast stores each channel message exactly once and fans it out
// to member devices. Once every member acknowledged the read, the ciphertext
// and its receipts are removed: the server only ever retains the unread
// backlog, since it cannot read the payloads anyway.
package groupcast

import (
	"context"
	"fmt"
	"time"

	"relaycore/internal/domain"
	"relaycore/internal/observability/metrics"
	"relaycore/internal/session"
	"relaycore/internal/store"
	"relaycore/internal/writequeue"

	"github.com/google/uuid"
)

type Service struct {
	store *store.Store
	queue *writequeue.Queue
	dir   *session.Directory
	now   func() time.Time
}

func New(st *store.Store, q *writequeue.Queue, dir *session.Directory) *Service {
	return &Service{store: st, queue: q, dir: dir, now: time.Now}
}

type SendInput struct {
	ChannelID    string
	Sender       string
	SenderDevice string
	ItemID       string
	Type         string
	Payload      string
	CipherType   string
	Timestamp    int64
}

type SendResult struct {
	ItemID           string `json:"itemId"`
	DeliveredCount   int    `json:"deliveredCount"`
	TotalDevices     int    `json:"totalDevices"`
	AlreadyDelivered bool   `json:"alreadyDelivered,omitempty"`
}

type ItemView struct {
	ItemID       string `json:"itemId"`
	ChannelID    string `json:"channel"`
	Sender       string `json:"sender"`
	SenderDevice string `json:"senderDevice"`
	Type         string `json:"type"`
	Payload      string `json:"payload"`
	CipherType   string `json:"cipherType,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

type ReadUpdate struct {
	ItemID       string `json:"itemId"`
	ReadCount    int64  `json:"readCount"`
	TotalMembers int64  `json:"totalMembers"`
	AllRead      bool   `json:"allRead"`
}

func itemView(it domain.GroupItem) ItemView {
	return ItemView{
		ItemID:       it.ItemID,
		ChannelID:    it.ChannelID,
		Sender:       it.Sender,
		SenderDevice: it.SenderDevice,
		Type:         it.Type,
		Payload:      it.Payload,
		CipherType:   it.CipherType,
		Timestamp:    it.Timestamp,
	}
}

// Send stores exactly one row for the message and pushes it to every member
// device except all devices of the sender. A repeated itemId is an
// idempotent no-op: nothing is stored and nothing is re-delivered.
func (s *Service) Send(ctx context.Context, in SendInput) (SendResult, error) {
	if in.ChannelID == "" || in.Sender == "" || in.ItemID == "" || in.Payload == "" {
		return SendResult{}, fmt.Errorf("%w: missing group item fields", domain.ErrValidation)
	}

	member, err := s.store.Channels().IsMember(ctx, in.ChannelID, in.Sender)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !member {
		return SendResult{}, fmt.Errorf("%w: not a channel member", domain.ErrPermission)
	}

	if _, err := s.store.GroupItems().GetByItemID(ctx, in.ItemID); err == nil {
		return SendResult{ItemID: in.ItemID, AlreadyDelivered: true}, nil
	} else if err != store.ErrRecordNotFound {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	item := domain.GroupItem{
		ID:           uuid.New(),
		ItemID:       in.ItemID,
		ChannelID:    in.ChannelID,
		Sender:       in.Sender,
		SenderDevice: in.SenderDevice,
		Type:         in.Type,
		Payload:      in.Payload,
		CipherType:   in.CipherType,
		Timestamp:    in.Timestamp,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.queue.Do(ctx, "groupitem.create", func(ctx context.Context) error {
		return s.store.GroupItems().Create(ctx, &item)
	}); err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	members, err := s.store.Channels().Members(ctx, in.ChannelID)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	view := itemView(item)
	delivered, total := 0, 0
	for _, member := range members {
		if member == in.Sender {
			// The sender is excluded entirely, not just the
			// originating device.
			continue
		}
		devices, err := s.store.Devices().ListForUser(ctx, member)
		if err != nil {
			return SendResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		for _, dev := range devices {
			total++
			if s.dir.RouteIfReady(member, dev.DeviceID, "groupItem", view) {
				delivered++
			}
		}
	}
	metrics.GroupItemsBroadcastTotal.WithLabelValues().Inc()

	return SendResult{ItemID: in.ItemID, DeliveredCount: delivered, TotalDevices: total}, nil
}

// MarkRead records the acknowledgment, notifies the sender's device, and
// drops the item with all its receipts once acknowledgments cover the
// channel membership.
func (s *Service) MarkRead(ctx context.Context, itemID, userID, deviceID string) (ReadUpdate, error) {
	item, err := s.store.GroupItems().GetByItemID(ctx, itemID)
	if err == store.ErrRecordNotFound {
		return ReadUpdate{}, fmt.Errorf("%w: group item %q", domain.ErrNotFound, itemID)
	}
	if err != nil {
		return ReadUpdate{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	member, err := s.store.Channels().IsMember(ctx, item.ChannelID, userID)
	if err != nil {
		return ReadUpdate{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if !member {
		return ReadUpdate{}, fmt.Errorf("%w: not a channel member", domain.ErrPermission)
	}

	if err := s.queue.Do(ctx, "groupitem.mark_read", func(ctx context.Context) error {
		return s.store.GroupItems().UpsertRead(ctx, domain.GroupItemRead{
			GroupItemID: item.ID,
			UserID:      userID,
			DeviceID:    deviceID,
			ReadAt:      s.now().UTC(),
		})
	}); err != nil {
		return ReadUpdate{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	readCount, err := s.store.GroupItems().CountReads(ctx, item.ID)
	if err != nil {
		return ReadUpdate{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	members, err := s.store.Channels().Members(ctx, item.ChannelID)
	if err != nil {
		return ReadUpdate{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	update := ReadUpdate{
		ItemID:       itemID,
		ReadCount:    readCount,
		TotalMembers: int64(len(members)),
		AllRead:      readCount >= int64(len(members)),
	}

	s.dir.RouteIfReady(item.Sender, item.SenderDevice, "groupItemReadUpdate", update)

	if update.AllRead {
		if err := s.queue.Do(ctx, "groupitem.purge", func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(tx *store.Store) error {
				if err := tx.GroupItems().DeleteReads(ctx, item.ID); err != nil {
					return err
				}
				return tx.GroupItems().Delete(ctx, item.ID)
			})
		}); err != nil {
			return update, fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
	}

	return update, nil
}
