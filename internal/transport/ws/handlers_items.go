package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"relaycore/internal/delivery"
	"relaycore/internal/domain"
	"relaycore/internal/groupcast"
)

type sendItemRequest struct {
	Receiver       string `json:"receiver"`
	ReceiverDevice string `json:"receiverDevice"`
	Type           string `json:"type"`
	Payload        string `json:"payload"`
	CipherType     string `json:"cipherType"`
	ItemID         string `json:"itemId"`
}

// handleSendItem acks the request with the stored result. The deliveryReceipt
// and receiveItem events are routed by the delivery service itself.
func (s *Server) handleSendItem(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req sendItemRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed sendItem payload", domain.ErrValidation)
	}

	res, err := s.items.Send(ctx, delivery.SendInput{
		Sender:         c.auth.UserID,
		SenderDevice:   c.auth.DeviceID,
		Receiver:       req.Receiver,
		ReceiverDevice: req.ReceiverDevice,
		Type:           req.Type,
		Payload:        req.Payload,
		CipherType:     req.CipherType,
		ItemID:         req.ItemID,
	})
	if err != nil {
		return err
	}
	return c.reply(seq, "sendItemResponse", map[string]any{
		"success":   true,
		"storedId":  res.StoredID,
		"itemId":    res.ItemID,
		"delivered": res.Delivered,
	})
}

type fetchPendingRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (s *Server) handleFetchPendingMessages(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req fetchPendingRequest
	_ = json.Unmarshal(data, &req)

	items, hasMore, err := s.items.FetchPending(ctx, c.auth.UserID, c.auth.DeviceID, req.Limit, req.Offset)
	if err != nil {
		return err
	}
	return c.reply(seq, "pendingMessagesResponse", map[string]any{
		"items":   items,
		"hasMore": hasMore,
	})
}

type deleteItemRequest struct {
	ItemID string `json:"itemId"`
}

func (s *Server) handleDeleteItem(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req deleteItemRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ItemID == "" {
		return fmt.Errorf("%w: itemId required", domain.ErrValidation)
	}
	if err := s.items.DeleteItem(ctx, c.auth.UserID, c.auth.DeviceID, req.ItemID); err != nil {
		return err
	}
	return c.reply(seq, "deleteItemResponse", okAck)
}

type sendGroupItemRequest struct {
	ChannelID  string `json:"channel"`
	ItemID     string `json:"itemId"`
	Type       string `json:"type"`
	Payload    string `json:"payload"`
	CipherType string `json:"cipherType"`
	Timestamp  int64  `json:"timestamp"`
}

func (s *Server) handleSendGroupItem(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req sendGroupItemRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed sendGroupItem payload", domain.ErrValidation)
	}

	res, err := s.groups.Send(ctx, groupcast.SendInput{
		ChannelID:    req.ChannelID,
		Sender:       c.auth.UserID,
		SenderDevice: c.auth.DeviceID,
		ItemID:       req.ItemID,
		Type:         req.Type,
		Payload:      req.Payload,
		CipherType:   req.CipherType,
		Timestamp:    req.Timestamp,
	})
	if err != nil {
		return err
	}
	return c.reply(seq, "groupItemDelivered", res)
}

type markGroupItemReadRequest struct {
	ItemID string `json:"itemId"`
}

func (s *Server) handleMarkGroupItemRead(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req markGroupItemReadRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ItemID == "" {
		return fmt.Errorf("%w: itemId required", domain.ErrValidation)
	}
	upd, err := s.groups.MarkRead(ctx, req.ItemID, c.auth.UserID, c.auth.DeviceID)
	if err != nil {
		return err
	}
	return c.reply(seq, "groupItemReadUpdate", upd)
}
