package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"relaycore/internal/authn"
	"relaycore/internal/collab"
	"relaycore/internal/delivery"
	"relaycore/internal/fileswarm"
	"relaycore/internal/groupcast"
	"relaycore/internal/keystore"
	"relaycore/internal/observability/metrics"
	"relaycore/internal/session"
	"relaycore/internal/store"
	transporthttp "relaycore/internal/transport/http"
	"relaycore/internal/transport/ws"
	"relaycore/internal/writequeue"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	metrics.MustRegister("ws-test")
	m.Run()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	queue := writequeue.New(16)
	t.Cleanup(queue.Close)

	dir := session.NewDirectory(session.NewPendingQueue(32))
	keys := keystore.New(st, queue)
	items := delivery.New(st, queue, dir, 100)
	groups := groupcast.New(st, queue, dir)
	files := fileswarm.NewRegistry(dir, fileswarm.Options{
		ShareRateLimit:  10,
		ShareRateWindow: time.Minute,
		ShareSetMax:     1000,
	})
	auth := authn.New(testSecret, "relaycore", authn.NewStoreResolver(st))

	wsServer := ws.NewServer(auth, dir, keys, items, groups, files, collab.NopPresence{}, collab.NopMeeting{})
	srv := httptest.NewServer(transporthttp.NewRouter(wsServer))
	t.Cleanup(srv.Close)
	return srv
}

func mintToken(t *testing.T, sub, did string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": "relaycore",
		"sub": sub,
		"did": did,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		c.t.Fatalf("write %s: %v", event, err)
	}
}

// next reads frames until one matches event, failing on timeout. Unrelated
// interleaved frames (receipts, broadcasts) are skipped.
func (c *client) next(event string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if msg["event"] == event {
			return msg
		}
	}
}

func (c *client) authenticate(token string) {
	c.t.Helper()
	c.next("authChallenge")
	c.send("authenticate", map[string]string{"token": token})
	resp := c.next("authenticated")
	data := resp["data"].(map[string]any)
	if data["ok"] != true {
		c.t.Fatalf("authenticate failed: %v", resp)
	}
}

func (c *client) ready() {
	c.t.Helper()
	c.send("clientReady", nil)
	c.next("pendingMessages")
}

func TestUnauthenticatedEventRejected(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	c.next("authChallenge")

	c.send("signalStatus", nil)
	resp := c.next("signalStatusResponse")
	data := resp["data"].(map[string]any)
	if data["success"] != false || data["error"] != "auth_required" {
		t.Fatalf("expected auth_required, got %v", resp)
	}
}

func TestAuthenticateThenStoreIdentity(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	c.authenticate(mintToken(t, "alice", "d1"))

	c.send("storeIdentity", map[string]any{
		"publicKey":      "QUJD",
		"registrationId": 7,
	})
	resp := c.next("storeIdentityResponse")
	if resp["data"].(map[string]any)["success"] != true {
		t.Fatalf("storeIdentity failed: %v", resp)
	}

	c.send("signalStatus", nil)
	status := c.next("signalStatusResponse")["data"].(map[string]any)
	if status["identityPresent"] != true {
		t.Fatalf("expected identity present, got %v", status)
	}
}

func TestSendItemReachesLiveReceiver(t *testing.T) {
	srv := newTestServer(t)

	sender := dial(t, srv)
	sender.authenticate(mintToken(t, "alice", "d1"))
	sender.ready()

	receiver := dial(t, srv)
	receiver.authenticate(mintToken(t, "bob", "d1"))
	receiver.ready()

	sender.send("sendItem", map[string]any{
		"receiver":       "bob",
		"receiverDevice": "d1",
		"type":           "text",
		"payload":        "ciphertext",
		"itemId":         "item-1",
	})

	got := receiver.next("receiveItem")["data"].(map[string]any)
	if got["itemId"] != "item-1" || got["sender"] != "alice" {
		t.Fatalf("unexpected item: %v", got)
	}

	receipt := sender.next("deliveryReceipt")["data"].(map[string]any)
	if receipt["itemId"] != "item-1" {
		t.Fatalf("unexpected receipt: %v", receipt)
	}

	ack := sender.next("sendItemResponse")["data"].(map[string]any)
	if ack["delivered"] != true {
		t.Fatalf("expected live delivery, got %v", ack)
	}
}

func TestOfflineItemReportedOnClientReady(t *testing.T) {
	srv := newTestServer(t)

	sender := dial(t, srv)
	sender.authenticate(mintToken(t, "alice", "d1"))
	sender.ready()

	sender.send("sendItem", map[string]any{
		"receiver":       "bob",
		"receiverDevice": "d1",
		"type":           "text",
		"payload":        "ciphertext",
		"itemId":         "item-offline",
	})
	ack := sender.next("sendItemResponse")["data"].(map[string]any)
	if ack["delivered"] != false {
		t.Fatalf("expected stored-only delivery, got %v", ack)
	}

	receiver := dial(t, srv)
	receiver.authenticate(mintToken(t, "bob", "d1"))
	receiver.send("clientReady", nil)
	count := receiver.next("pendingMessages")["data"].(map[string]any)["count"]
	if count != float64(1) {
		t.Fatalf("expected 1 pending, got %v", count)
	}

	receiver.send("fetchPendingMessages", map[string]any{"limit": 10, "offset": 0})
	page := receiver.next("pendingMessagesResponse")["data"].(map[string]any)
	items := page["items"].([]any)
	if len(items) != 1 || page["hasMore"] != false {
		t.Fatalf("unexpected page: %v", page)
	}
}

func TestRelayRoutesOpaquePayload(t *testing.T) {
	srv := newTestServer(t)

	caller := dial(t, srv)
	caller.authenticate(mintToken(t, "alice", "d1"))
	caller.ready()

	callee := dial(t, srv)
	callee.authenticate(mintToken(t, "bob", "d1"))
	callee.ready()

	caller.send("file:webrtc-offer", map[string]any{
		"to":   map[string]string{"userId": "bob", "deviceId": "d1"},
		"data": map[string]string{"sdp": "offer"},
	})

	got := callee.next("file:webrtc-offer")["data"].(map[string]any)
	from := got["from"].(map[string]any)
	if from["userId"] != "alice" || from["deviceId"] != "d1" {
		t.Fatalf("unexpected relay source: %v", got)
	}

	ack := caller.next("file:webrtc-offerResponse")["data"].(map[string]any)
	if ack["delivered"] != true {
		t.Fatalf("expected delivered relay, got %v", ack)
	}
}

func TestFileShareScenarioOverSocket(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv)
	a.authenticate(mintToken(t, "alice", "d1"))
	a.ready()

	b := dial(t, srv)
	b.authenticate(mintToken(t, "bob", "d1"))
	b.ready()

	a.send("announceFile", map[string]any{
		"fileId":          "F",
		"mimeType":        "video/mp4",
		"fileSize":        1024,
		"chunkCount":      4,
		"availableChunks": []int{0, 1, 2, 3},
	})
	if a.next("announceFileResponse")["data"].(map[string]any)["success"] != true {
		t.Fatal("announce failed")
	}

	b.send("getFileInfo", map[string]any{"fileId": "F"})
	denied := b.next("getFileInfoResponse")["data"].(map[string]any)
	if denied["success"] != false || denied["error"] != "permission_denied" {
		t.Fatalf("expected access denied, got %v", denied)
	}

	a.send("updateFileShare", map[string]any{
		"fileId":        "F",
		"action":        "add",
		"targetUserIds": []string{"bob"},
	})
	if a.next("updateFileShareResponse")["data"].(map[string]any)["success"] != true {
		t.Fatal("share update failed")
	}

	// The target's live sessions are notified.
	notice := b.next("fileSharedWithYou")["data"].(map[string]any)
	if notice["fileId"] != "F" {
		t.Fatalf("unexpected share notice: %v", notice)
	}

	b.send("getFileInfo", map[string]any{"fileId": "F"})
	granted := b.next("getFileInfoResponse")["data"].(map[string]any)
	if granted["success"] != true {
		t.Fatalf("expected access granted, got %v", granted)
	}
}
