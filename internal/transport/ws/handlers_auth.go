package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"relaycore/internal/authn"
	"relaycore/internal/domain"
)

type authenticateRequest struct {
	// Token path.
	Token string `json:"token,omitempty"`
	// Signed-request path: signature over the challenge issued at connect.
	UserID    string `json:"userId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type authenticatedResponse struct {
	OK       bool   `json:"ok"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// handleAuthenticate accepts either a session token or an ed25519 signature
// over the connection's challenge nonce. Both paths converge on the same
// session state: a registered, not-yet-ready directory entry.
func (s *Server) handleAuthenticate(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req authenticateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed authenticate payload", domain.ErrValidation)
	}

	var (
		ac  authn.AuthContext
		err error
	)
	switch {
	case req.Token != "":
		ac, err = s.auth.VerifyToken(req.Token)
	case req.Signature != "":
		ac, err = s.auth.VerifySignedRequest(ctx, req.UserID, req.DeviceID, c.challenge, req.Signature)
	default:
		return fmt.Errorf("%w: no credentials presented", domain.ErrUnauthenticated)
	}
	if err != nil {
		return err
	}

	c.auth = &ac
	s.dir.Register(ac.UserID, ac.DeviceID, c)
	s.presence.OnSocketConnected(ac.UserID, ac.DeviceID)
	slog.Info("device authenticated", "user_id", ac.UserID, "device_id", ac.DeviceID)

	return c.reply(seq, "authenticated", authenticatedResponse{
		OK:       true,
		UserID:   ac.UserID,
		DeviceID: ac.DeviceID,
	})
}

// handleClientReady reports the offline backlog size and opens the gate for
// live routing. Flow control is pull-based: the client learns the count and
// pages through fetchPendingMessages at its own pace.
func (s *Server) handleClientReady(ctx context.Context, c *Conn, seq *int64, _ json.RawMessage) error {
	count, err := s.items.PendingCount(ctx, c.auth.UserID, c.auth.DeviceID)
	if err != nil {
		return err
	}
	if err := c.reply(seq, "pendingMessages", map[string]int64{"count": count}); err != nil {
		return err
	}

	if !c.ready {
		c.ready = true
		s.dir.MarkReady(c.auth.UserID, c.auth.DeviceID)
	}
	return nil
}
