package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"relaycore/internal/domain"
	"relaycore/internal/keystore"
)

type ackBody struct {
	Success bool `json:"success"`
}

var okAck = ackBody{Success: true}

type storeIdentityRequest struct {
	PublicKey      string `json:"publicKey"`
	RegistrationID int    `json:"registrationId"`
}

func (s *Server) handleStoreIdentity(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req storeIdentityRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed storeIdentity payload", domain.ErrValidation)
	}
	if err := s.keys.StoreIdentity(ctx, c.auth.UserID, c.auth.DeviceID, req.PublicKey, req.RegistrationID); err != nil {
		return err
	}
	return c.reply(seq, "storeIdentityResponse", okAck)
}

type getSignedPreKeysRequest struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// handleGetSignedPreKeys serves another party's signed prekeys so a session
// can be bootstrapped while that party is offline.
func (s *Server) handleGetSignedPreKeys(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req getSignedPreKeysRequest
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" || req.DeviceID == "" {
		return fmt.Errorf("%w: userId and deviceId required", domain.ErrValidation)
	}
	keys, err := s.keys.SignedPreKeys(ctx, req.UserID, req.DeviceID)
	if err != nil {
		return err
	}
	return c.reply(seq, "getSignedPreKeysResponse", map[string]any{
		"success": true,
		"keys":    keys,
	})
}

type storePreKeysRequest struct {
	Keys []keystore.PreKeyEntry `json:"keys"`
}

type storePreKeysResponse struct {
	Success   bool  `json:"success"`
	Stored    int   `json:"stored"`
	ServerIDs []int `json:"serverIds"`
}

func (s *Server) handleStorePreKeys(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req storePreKeysRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed storePreKeys payload", domain.ErrValidation)
	}
	stored, serverIDs, err := s.keys.StorePreKeys(ctx, c.auth.UserID, c.auth.DeviceID, req.Keys)
	if err != nil {
		return err
	}
	return c.reply(seq, "storePreKeysResponse", storePreKeysResponse{
		Success:   true,
		Stored:    stored,
		ServerIDs: serverIDs,
	})
}

// handleStorePreKey is the single-key convenience form. The payload carries
// either a bare prekey or a signed prekey, distinguished by the signature
// field.
func (s *Server) handleStorePreKey(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req struct {
		ID        int    `json:"id"`
		Data      string `json:"data"`
		Signature string `json:"signature,omitempty"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed storePreKey payload", domain.ErrValidation)
	}

	if req.Signature != "" {
		if err := s.keys.StoreSignedPreKey(ctx, c.auth.UserID, c.auth.DeviceID, req.ID, req.Data, req.Signature); err != nil {
			return err
		}
		return c.reply(seq, "storePreKeyResponse", okAck)
	}

	stored, serverIDs, err := s.keys.StorePreKeys(ctx, c.auth.UserID, c.auth.DeviceID, []keystore.PreKeyEntry{{ID: req.ID, Data: req.Data}})
	if err != nil {
		return err
	}
	return c.reply(seq, "storePreKeyResponse", storePreKeysResponse{
		Success:   true,
		Stored:    stored,
		ServerIDs: serverIDs,
	})
}

type removeKeyRequest struct {
	ID int `json:"id"`
}

func (s *Server) handleRemovePreKey(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req removeKeyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed removePreKey payload", domain.ErrValidation)
	}
	if err := s.keys.RemovePreKey(ctx, c.auth.UserID, c.auth.DeviceID, req.ID); err != nil {
		return err
	}
	return c.reply(seq, "removePreKeyResponse", okAck)
}

func (s *Server) handleRemoveSignedPreKey(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req removeKeyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed removeSignedPreKey payload", domain.ErrValidation)
	}
	if err := s.keys.RemoveSignedPreKey(ctx, c.auth.UserID, c.auth.DeviceID, req.ID); err != nil {
		return err
	}
	return c.reply(seq, "removeSignedPreKeyResponse", okAck)
}

func (s *Server) handleSignalStatus(ctx context.Context, c *Conn, seq *int64, _ json.RawMessage) error {
	status, err := s.keys.GetStatus(ctx, c.auth.UserID, c.auth.DeviceID)
	if err != nil {
		return err
	}
	return c.reply(seq, "signalStatusResponse", status)
}

type deleteAllKeysRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDeleteAllSignalKeys(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req deleteAllKeysRequest
	_ = json.Unmarshal(data, &req)

	deleted := s.keys.DeleteAllKeys(ctx, c.auth.UserID, c.auth.DeviceID, req.Reason)
	return c.reply(seq, "deleteAllSignalKeysResponse", map[string]any{
		"success": true,
		"deleted": deleted,
	})
}

type storeSenderKeyRequest struct {
	ChannelID string `json:"channel"`
	Key       string `json:"key"`
}

func (s *Server) handleStoreSenderKey(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req storeSenderKeyRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChannelID == "" {
		return fmt.Errorf("%w: channel required", domain.ErrValidation)
	}
	if err := s.keys.StoreSenderKey(ctx, c.auth.UserID, req.ChannelID, c.auth.DeviceID, req.Key); err != nil {
		return err
	}
	return c.reply(seq, "storeSenderKeyResponse", okAck)
}

type getSenderKeyRequest struct {
	ChannelID string `json:"channel"`
	DeviceID  string `json:"deviceId"`
}

func (s *Server) handleGetSenderKey(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req getSenderKeyRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChannelID == "" || req.DeviceID == "" {
		return fmt.Errorf("%w: channel and deviceId required", domain.ErrValidation)
	}
	key, err := s.keys.GetSenderKey(ctx, req.ChannelID, req.DeviceID)
	if err != nil {
		return err
	}
	return c.reply(seq, "getSenderKeyResponse", map[string]any{
		"success": true,
		"key":     key,
	})
}
