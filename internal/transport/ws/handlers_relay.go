package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"relaycore/internal/domain"
)

type relayTarget struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

type relayRequest struct {
	To   relayTarget     `json:"to"`
	Data json.RawMessage `json:"data"`
}

// relayedPayload is what the target device receives: the opaque data plus
// the sender's address so it can answer on the same path. The server never
// inspects the data; offers, answers, ICE candidates and media key exchanges
// stay end-to-end.
type relayedPayload struct {
	From relayTarget     `json:"from"`
	Data json.RawMessage `json:"data"`
}

// relayHandler forwards the event under its original name to the addressed
// device. Targets that are connected but not ready get it buffered; absent
// targets are a delivery failure reported to the caller, signaling has no
// store-and-forward.
func (s *Server) relayHandler(event string) handlerFunc {
	return func(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
		var req relayRequest
		if err := json.Unmarshal(data, &req); err != nil || req.To.UserID == "" || req.To.DeviceID == "" {
			return fmt.Errorf("%w: relay target required", domain.ErrValidation)
		}
		return s.relay(c, seq, event, req)
	}
}

// videoRelayHandler additionally consults the meeting service: when the
// payload names a meeting, key material only moves inside an active meeting
// and only between its participants.
func (s *Server) videoRelayHandler(event string) handlerFunc {
	return func(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error {
		var req struct {
			relayRequest
			MeetingID string `json:"meetingId,omitempty"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.To.UserID == "" || req.To.DeviceID == "" {
			return fmt.Errorf("%w: relay target required", domain.ErrValidation)
		}

		if req.MeetingID != "" {
			active, err := s.meetings.IsActive(ctx, req.MeetingID)
			if err != nil {
				return fmt.Errorf("%w: meeting lookup: %v", domain.ErrStorage, err)
			}
			if !active {
				return fmt.Errorf("%w: meeting %q is not active", domain.ErrPermission, req.MeetingID)
			}
			participants, err := s.meetings.Participants(ctx, req.MeetingID)
			if err != nil {
				return fmt.Errorf("%w: meeting lookup: %v", domain.ErrStorage, err)
			}
			if len(participants) > 0 && !(contains(participants, c.auth.UserID) && contains(participants, req.To.UserID)) {
				return fmt.Errorf("%w: not a meeting participant", domain.ErrPermission)
			}
		}
		return s.relay(c, seq, event, req.relayRequest)
	}
}

func (s *Server) relay(c *Conn, seq *int64, event string, req relayRequest) error {
	delivered := s.dir.RouteIfReady(req.To.UserID, req.To.DeviceID, event, relayedPayload{
		From: relayTarget{UserID: c.auth.UserID, DeviceID: c.auth.DeviceID},
		Data: req.Data,
	})
	return c.reply(seq, event+"Response", map[string]any{
		"success":   true,
		"delivered": delivered,
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
