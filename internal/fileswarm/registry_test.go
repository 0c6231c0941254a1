package fileswarm_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relaycore/internal/domain"
	"relaycore/internal/fileswarm"
	"relaycore/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("fileswarm-test")
	m.Run()
}

type broadcastRecord struct {
	UserID string
	Event  string
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []broadcastRecord
}

func (f *fakeBroadcaster) BroadcastToUser(userID, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, broadcastRecord{UserID: userID, Event: event})
	return 1
}

func (f *fakeBroadcaster) records() []broadcastRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastRecord(nil), f.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newRegistry(b fileswarm.Broadcaster, clock *fakeClock) *fileswarm.Registry {
	opts := fileswarm.Options{
		ShareRateLimit:  10,
		ShareRateWindow: time.Minute,
		ShareSetMax:     1000,
	}
	if clock != nil {
		opts.Now = clock.now
	}
	return fileswarm.NewRegistry(b, opts)
}

func announceInput(user, device, fileID string) fileswarm.AnnounceInput {
	return fileswarm.AnnounceInput{
		UserID:          user,
		DeviceID:        device,
		FileID:          fileID,
		MimeType:        "application/pdf",
		FileSize:        4096,
		Checksum:        "sha256:abc",
		ChunkCount:      4,
		AvailableChunks: []int{0, 1},
		SharedWith:      []string{user},
	}
}

func TestAnnounceCreatesAndGatesAccess(t *testing.T) {
	reg := newRegistry(nil, nil)

	if _, err := reg.Announce(announceInput("alice", "a1", "F")); err != nil {
		t.Fatalf("announce: %v", err)
	}

	// B is not in the permitted set.
	if _, err := reg.GetFileInfo("bob", "F"); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected access denied for bob, got %v", err)
	}

	if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, []string{"bob"}); err != nil {
		t.Fatalf("share with bob: %v", err)
	}

	info, err := reg.GetFileInfo("bob", "F")
	if err != nil {
		t.Fatalf("bob after share: %v", err)
	}
	if info.FileID != "F" || info.Creator != "alice" {
		t.Fatalf("unexpected file info: %+v", info)
	}
}

func TestAnnounceRejectedForOutsiders(t *testing.T) {
	reg := newRegistry(nil, nil)

	if _, err := reg.Announce(announceInput("alice", "a1", "F")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if _, err := reg.Announce(announceInput("mallory", "m1", "F")); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected seeding-claim injection to be rejected, got %v", err)
	}
}

func TestReannounceMergesAndNeverShrinks(t *testing.T) {
	reg := newRegistry(nil, nil)

	first := announceInput("alice", "a1", "F")
	first.SharedWith = []string{"alice", "bob"}
	if _, err := reg.Announce(first); err != nil {
		t.Fatalf("announce: %v", err)
	}

	// Re-announce with a smaller share set and more chunks.
	second := announceInput("alice", "a1", "F")
	second.SharedWith = []string{"alice"}
	second.AvailableChunks = []int{2, 3}
	if _, err := reg.Announce(second); err != nil {
		t.Fatalf("re-announce: %v", err)
	}

	users, err := reg.GetSharedUsers("alice", "F")
	if err != nil {
		t.Fatalf("shared users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("share set shrank on re-announce: %v", users)
	}

	chunks, err := reg.GetAvailableChunks("alice", "F")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	got := chunks["alice:a1"]
	if len(got) != 4 {
		t.Fatalf("expected chunk union {0,1,2,3}, got %v", got)
	}

	quality, err := reg.ChunkQuality("F")
	if err != nil {
		t.Fatalf("quality: %v", err)
	}
	if quality != 100 {
		t.Fatalf("expected 100%% chunk quality, got %v", quality)
	}
}

func TestChunkQualityCountsCoverageAcrossSeeders(t *testing.T) {
	reg := newRegistry(nil, nil)

	in := announceInput("alice", "a1", "F")
	in.SharedWith = []string{"alice", "bob"}
	in.AvailableChunks = []int{0}
	if _, err := reg.Announce(in); err != nil {
		t.Fatalf("announce: %v", err)
	}

	other := announceInput("bob", "b1", "F")
	other.AvailableChunks = []int{1, 2}
	if _, err := reg.Announce(other); err != nil {
		t.Fatalf("bob announce: %v", err)
	}

	quality, err := reg.ChunkQuality("F")
	if err != nil {
		t.Fatalf("quality: %v", err)
	}
	if quality != 75 {
		t.Fatalf("expected 75%% coverage (3 of 4), got %v", quality)
	}
}

func TestUpdateFileShareSizeCapIsWholesale(t *testing.T) {
	reg := fileswarm.NewRegistry(nil, fileswarm.Options{
		ShareRateLimit:  100,
		ShareRateWindow: time.Minute,
		ShareSetMax:     5,
	})

	if _, err := reg.Announce(announceInput("alice", "a1", "F")); err != nil {
		t.Fatalf("announce: %v", err)
	}

	targets := make([]string, 6)
	for i := range targets {
		targets[i] = fmt.Sprintf("user-%d", i)
	}
	err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, targets)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected wholesale rejection, got %v", err)
	}

	users, err := reg.GetSharedUsers("alice", "F")
	if err != nil {
		t.Fatalf("shared users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("partial application happened: %v", users)
	}

	// Exactly up to the cap is fine.
	if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, targets[:4]); err != nil {
		t.Fatalf("add up to cap: %v", err)
	}
}

func TestUpdateFileShareRateLimitWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	reg := newRegistry(nil, clock)

	if _, err := reg.Announce(announceInput("alice", "a1", "F")); err != nil {
		t.Fatalf("announce: %v", err)
	}

	for i := 0; i < 10; i++ {
		target := []string{fmt.Sprintf("user-%d", i)}
		if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, target); err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
	}

	err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, []string{"one-more"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limit on the 11th mutation, got %v", err)
	}

	clock.advance(61 * time.Second)
	if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, []string{"one-more"}); err != nil {
		t.Fatalf("mutation after window reset: %v", err)
	}
}

func TestRevokeAuthorization(t *testing.T) {
	reg := newRegistry(nil, nil)

	in := announceInput("alice", "a1", "F")
	in.SharedWith = []string{"alice", "bob", "carol"}
	if _, err := reg.Announce(in); err != nil {
		t.Fatalf("announce: %v", err)
	}

	// Non-creator cannot revoke someone else.
	err := reg.UpdateFileShare("bob", "F", fileswarm.ShareActionRevoke, []string{"carol"})
	if !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}

	// Self-revoke is allowed.
	if err := reg.UpdateFileShare("bob", "F", fileswarm.ShareActionRevoke, []string{"bob"}); err != nil {
		t.Fatalf("self revoke: %v", err)
	}
	if reg.CanAccess("bob", "F") {
		t.Fatalf("bob still has access after self revoke")
	}

	// Creator can revoke anyone.
	if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionRevoke, []string{"carol"}); err != nil {
		t.Fatalf("creator revoke: %v", err)
	}
	if reg.CanAccess("carol", "F") {
		t.Fatalf("carol still has access after creator revoke")
	}
}

func TestShareBroadcastsToAffectedUsers(t *testing.T) {
	b := &fakeBroadcaster{}
	reg := newRegistry(b, nil)

	if _, err := reg.Announce(announceInput("alice", "a1", "F")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionAdd, []string{"bob"}); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := reg.UpdateFileShare("alice", "F", fileswarm.ShareActionRevoke, []string{"bob"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	got := b.records()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].UserID != "bob" || got[0].Event != "fileSharedWithYou" {
		t.Fatalf("unexpected first notification: %+v", got[0])
	}
	if got[1].UserID != "bob" || got[1].Event != "fileAccessRevoked" {
		t.Fatalf("unexpected second notification: %+v", got[1])
	}
}

func TestDisconnectClearsSwarmEntriesButKeepsFile(t *testing.T) {
	reg := newRegistry(nil, nil)

	in := announceInput("alice", "a1", "F")
	in.SharedWith = []string{"alice", "bob"}
	if _, err := reg.Announce(in); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if err := reg.RegisterLeecher("bob", "b1", "F"); err != nil {
		t.Fatalf("register leecher: %v", err)
	}

	reg.HandleDisconnect("alice", "a1")
	reg.HandleDisconnect("bob", "b1")

	info, err := reg.GetFileInfo("alice", "F")
	if err != nil {
		t.Fatalf("file record vanished on disconnect: %v", err)
	}
	if info.SeederCount != 0 || info.LeecherCount != 0 {
		t.Fatalf("swarm entries not cleared: %+v", info)
	}

	active := reg.GetActiveFiles("alice")
	if len(active) != 0 {
		t.Fatalf("file with zero seeders listed as active")
	}
}

func TestSearchFilesIsPermissionGated(t *testing.T) {
	reg := newRegistry(nil, nil)

	if _, err := reg.Announce(announceInput("alice", "a1", "report.pdf")); err != nil {
		t.Fatalf("announce: %v", err)
	}
	shared := announceInput("alice", "a1", "notes.txt")
	shared.MimeType = "text/plain"
	shared.SharedWith = []string{"alice", "bob"}
	if _, err := reg.Announce(shared); err != nil {
		t.Fatalf("announce shared: %v", err)
	}

	mine := reg.SearchFiles("bob", "")
	if len(mine) != 1 || mine[0].FileID != "notes.txt" {
		t.Fatalf("search leaked inaccessible files: %+v", mine)
	}

	byMime := reg.SearchFiles("alice", "pdf")
	if len(byMime) != 1 || byMime[0].FileID != "report.pdf" {
		t.Fatalf("mime search failed: %+v", byMime)
	}
}
