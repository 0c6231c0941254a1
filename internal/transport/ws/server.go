// Package ws implements the realtime event surface. Every client holds one
// long-lived websocket per device; events arrive as JSON envelopes and are
// dispatched by name to a handler bound to the connection's auth context.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relaycore/internal/authn"
	"relaycore/internal/collab"
	"relaycore/internal/delivery"
	"relaycore/internal/domain"
	"relaycore/internal/fileswarm"
	"relaycore/internal/groupcast"
	"relaycore/internal/keystore"
	"relaycore/internal/observability/metrics"
	"relaycore/internal/session"
)

type handlerFunc func(ctx context.Context, c *Conn, seq *int64, data json.RawMessage) error

type Server struct {
	auth     *authn.Authenticator
	dir      *session.Directory
	keys     *keystore.Service
	items    *delivery.Service
	groups   *groupcast.Service
	files    *fileswarm.Registry
	presence collab.PresenceNotifier
	meetings collab.MeetingDirectory

	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

func NewServer(
	auth *authn.Authenticator,
	dir *session.Directory,
	keys *keystore.Service,
	items *delivery.Service,
	groups *groupcast.Service,
	files *fileswarm.Registry,
	presence collab.PresenceNotifier,
	meetings collab.MeetingDirectory,
) *Server {
	s := &Server{
		auth:     auth,
		dir:      dir,
		keys:     keys,
		items:    items,
		groups:   groups,
		files:    files,
		presence: presence,
		meetings: meetings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.handlers = map[string]handlerFunc{
		"authenticate": s.handleAuthenticate,
		"clientReady":  s.handleClientReady,

		"storeIdentity":       s.handleStoreIdentity,
		"getSignedPreKeys":    s.handleGetSignedPreKeys,
		"storePreKey":         s.handleStorePreKey,
		"storePreKeys":        s.handleStorePreKeys,
		"removePreKey":        s.handleRemovePreKey,
		"removeSignedPreKey":  s.handleRemoveSignedPreKey,
		"signalStatus":        s.handleSignalStatus,
		"deleteAllSignalKeys": s.handleDeleteAllSignalKeys,
		"storeSenderKey":      s.handleStoreSenderKey,
		"getSenderKey":        s.handleGetSenderKey,

		"sendItem":             s.handleSendItem,
		"fetchPendingMessages": s.handleFetchPendingMessages,
		"deleteItem":           s.handleDeleteItem,

		"sendGroupItem":     s.handleSendGroupItem,
		"markGroupItemRead": s.handleMarkGroupItemRead,

		"announceFile":          s.handleAnnounceFile,
		"unannounceFile":        s.handleUnannounceFile,
		"updateAvailableChunks": s.handleUpdateAvailableChunks,
		"getFileInfo":           s.handleGetFileInfo,
		"registerLeecher":       s.handleRegisterLeecher,
		"unregisterLeecher":     s.handleUnregisterLeecher,
		"searchFiles":           s.handleSearchFiles,
		"getActiveFiles":        s.handleGetActiveFiles,
		"getAvailableChunks":    s.handleGetAvailableChunks,
		"updateFileShare":       s.handleUpdateFileShare,
		"getSharedUsers":        s.handleGetSharedUsers,
	}
	for _, ev := range []string{
		"file:webrtc-offer", "file:webrtc-answer", "file:webrtc-ice",
		"file:key-request", "file:key-response",
	} {
		s.handlers[ev] = s.relayHandler(ev)
	}
	for _, ev := range []string{"video:key-request", "video:key-response"} {
		s.handlers[ev] = s.videoRelayHandler(ev)
	}
	return s
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// the peer goes away. One goroutine per connection; the ping ticker runs on
// a second one.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newConn(ws)
	c.challenge = authn.NewChallenge()

	metrics.ConnectionsActive.WithLabelValues().Inc()
	defer metrics.ConnectionsActive.WithLabelValues().Dec()

	// The client may authenticate with a signed request against this nonce
	// instead of presenting a session token.
	c.Send("authChallenge", map[string]string{"challenge": c.challenge})

	stopPing := make(chan struct{})
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if c.ping() != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	s.readLoop(r.Context(), c)

	close(stopPing)
	s.teardown(c)
}

func (s *Server) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.Send("protocolError", errorBody{Error: "validation_failed", Message: "malformed envelope"})
			continue
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Conn, env Envelope) {
	h, ok := s.handlers[env.Event]
	if !ok {
		metrics.EventsTotal.WithLabelValues(env.Event, "unknown").Inc()
		c.reply(env.Seq, errorEventFor(env.Event), errorData(
			fmt.Errorf("%w: unknown event %q", domain.ErrValidation, env.Event)))
		return
	}

	// Unauthenticated connections may only authenticate.
	if c.auth == nil && env.Event != "authenticate" {
		metrics.EventsTotal.WithLabelValues(env.Event, "unauthenticated").Inc()
		c.reply(env.Seq, errorEventFor(env.Event), errorData(
			fmt.Errorf("%w: authenticate first", domain.ErrUnauthenticated)))
		return
	}

	if err := h(ctx, c, env.Seq, env.Data); err != nil {
		metrics.EventsTotal.WithLabelValues(env.Event, "error").Inc()
		slog.Info("event failed",
			"event", env.Event, "error", err, "code", errorCode(err),
		)
		c.reply(env.Seq, errorEventFor(env.Event), errorData(err))
		return
	}
	metrics.EventsTotal.WithLabelValues(env.Event, "ok").Inc()
}

// teardown runs once per connection after the read loop returns. The session
// entry is removed only if this connection still owns it, so a takeover by a
// newer connection is not clobbered by the old one's exit.
func (s *Server) teardown(c *Conn) {
	c.Close()
	if c.auth == nil {
		return
	}
	s.dir.Unregister(c.auth.UserID, c.auth.DeviceID, c)
	s.files.HandleDisconnect(c.auth.UserID, c.auth.DeviceID)
	s.presence.OnSocketDisconnected(c.auth.UserID, c.auth.DeviceID)
	slog.Info("device channel closed", "user_id", c.auth.UserID, "device_id", c.auth.DeviceID)
}
