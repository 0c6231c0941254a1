// Package delivery implements store-and-forward for direct (1:1) items.
// An item is always persisted before any live routing attempt, so offline
// receivers can pull it later; deletion is explicit and receiver-owned.
package delivery

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
	store   *store.Store
	queue   *writequeue.Queue
	dir     *session.Directory
	pageMax int
	now     func() time.Time
}

func New(st *store.Store, q *writequeue.Queue, dir *session.Directory, pageMax int) *Service {
	if pageMax <= 0 {
		pageMax = 100
	}
	return &Service{store: st, queue: q, dir: dir, pageMax: pageMax, now: time.Now}
}

type SendInput struct {
	Sender         string
	SenderDevice   string
	Receiver       string
	ReceiverDevice string
	Type           string
	Payload        string
	CipherType     string
	ItemID         string
}

type SendResult struct {
	StoredID  uuid.UUID `json:"storedId"`
	ItemID    string    `json:"itemId"`
	Delivered bool      `json:"delivered"`
}

type ItemView struct {
	ID             uuid.UUID  `json:"id"`
	ItemID         string     `json:"itemId"`
	Sender         string     `json:"sender"`
	SenderDevice   string     `json:"senderDevice"`
	Receiver       string     `json:"receiver"`
	ReceiverDevice string     `json:"receiverDevice"`
	Type           string     `json:"type"`
	Payload        string     `json:"payload"`
	CipherType     string     `json:"cipherType,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func itemView(it domain.Item) ItemView {
	return ItemView{
		ID:             it.ID,
		ItemID:         it.ItemID,
		Sender:         it.Sender,
		SenderDevice:   it.SenderDevice,
		Receiver:       it.Receiver,
		ReceiverDevice: it.ReceiverDevice,
		Type:           it.Type,
		Payload:        it.Payload,
		CipherType:     it.CipherType,
		DeliveredAt:    it.DeliveredAt,
		CreatedAt:      it.CreatedAt,
	}
}

type StoredReceipt struct {
	ItemID         string `json:"itemId"`
	Receiver       string `json:"receiver"`
	ReceiverDevice string `json:"receiverDevice"`
	Status         string `json:"status"`
}

// Send persists one item copy for the receiving device, acknowledges
// durability to the sender's own device, and routes live when the receiver
// is ready. Duplicate itemId values are stored as-is; the engine never
// deduplicates direct items.
func (s *Service) Send(ctx context.Context, in SendInput) (SendResult, error) {
	if in.Sender == "" || in.SenderDevice == "" || in.Receiver == "" || in.ReceiverDevice == "" {
		return SendResult{}, fmt.Errorf("%w: missing addressing fields", domain.ErrValidation)
	}
	if in.ItemID == "" || in.Payload == "" {
		return SendResult{}, fmt.Errorf("%w: missing item id or payload", domain.ErrValidation)
	}

	item := domain.Item{
		ID:             uuid.New(),
		ItemID:         in.ItemID,
		Sender:         in.Sender,
		SenderDevice:   in.SenderDevice,
		Receiver:       in.Receiver,
		ReceiverDevice: in.ReceiverDevice,
		Type:           in.Type,
		Payload:        in.Payload,
		CipherType:     in.CipherType,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.queue.Do(ctx, "item.create", func(ctx context.Context) error {
		return s.store.Items().Create(ctx, &item)
	}); err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	// Acknowledges durability, not delivery.
	s.dir.RouteIfReady(in.Sender, in.SenderDevice, "deliveryReceipt", StoredReceipt{
		ItemID:         in.ItemID,
		Receiver:       in.Receiver,
		ReceiverDevice: in.ReceiverDevice,
		Status:         "stored",
	})

	delivered := s.dir.RouteIfReady(in.Receiver, in.ReceiverDevice, "receiveItem", itemView(item))
	if delivered {
		at := s.now().UTC()
		if err := s.queue.Do(ctx, "item.mark_delivered", func(ctx context.Context) error {
			return s.store.Items().MarkDelivered(ctx, item.ID, at)
		}); err != nil {
			// The copy reached the device; losing the timestamp only costs
			// a redundant pull later.
			return SendResult{StoredID: item.ID, ItemID: in.ItemID, Delivered: true}, nil
		}
		metrics.ItemsDeliveredTotal.WithLabelValues().Inc()
	}

	return SendResult{StoredID: item.ID, ItemID: in.ItemID, Delivered: delivered}, nil
}

// FetchPending returns the device's stored items oldest-first.
func (s *Service) FetchPending(ctx context.Context, receiver, receiverDevice string, limit, offset int) ([]ItemView, bool, error) {
	if limit <= 0 || limit > s.pageMax {
		limit = s.pageMax
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.Items().PendingForDevice(ctx, receiver, receiverDevice, limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, itemView(it))
	}
	return views, hasMore, nil
}

func (s *Service) PendingCount(ctx context.Context, receiver, receiverDevice string) (int64, error) {
	count, err := s.store.Items().CountForDevice(ctx, receiver, receiverDevice)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return count, nil
}

// DeleteItem removes the caller's own copy. A row addressed to any other
// (receiver, device) is invisible to the caller, so a miss reads as not found.
func (s *Service) DeleteItem(ctx context.Context, receiver, receiverDevice, itemID string) error {
	var removed int64
	err := s.queue.Do(ctx, "item.delete", func(ctx context.Context) error {
		n, err := s.store.Items().Delete(ctx, itemID, receiver, receiverDevice)
		removed = n
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: item %q", domain.ErrNotFound, itemID)
	}
	return nil
}
