// Package fileswarm coordinates a permissioned chunk swarm. The registry
// tracks who seeds which chunk indices and who may access a file; chunk
// bytes themselves move peer-to-peer over a signaled data channel and never
// touch this process.
package fileswarm

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"relaycore/internal/domain"
	"relaycore/internal/observability/metrics"
	"relaycore/internal/session"
)

// Broadcaster delivers best-effort share notifications to a user's live
// sessions. The session Directory satisfies it.
type Broadcaster interface {
	BroadcastToUser(userID, event string, payload any) int
}

const (
	ShareActionAdd    = "add"
	ShareActionRevoke = "revoke"
)

type fileState struct {
	fileID     string
	creator    string
	mimeType   string
	fileSize   int64
	checksum   string
	chunkCount int
	sharedWith map[string]struct{}
	seeders    map[string]map[int]struct{} // device key -> chunk indices
	leechers   map[string]struct{}
}

type FileInfo struct {
	FileID       string  `json:"fileId"`
	Creator      string  `json:"creator"`
	MimeType     string  `json:"mimeType"`
	FileSize     int64   `json:"fileSize"`
	Checksum     string  `json:"checksum"`
	ChunkCount   int     `json:"chunkCount"`
	SeederCount  int     `json:"seederCount"`
	LeecherCount int     `json:"leecherCount"`
	ChunkQuality float64 `json:"chunkQuality"`
}

type ShareNotice struct {
	FileID string `json:"fileId"`
	By     string `json:"by"`
}

type Registry struct {
	mu        sync.Mutex
	files     map[string]*fileState
	limiter   *RateLimiter
	shareMax  int
	broadcast Broadcaster
}

type Options struct {
	ShareRateLimit  int
	ShareRateWindow time.Duration
	ShareSetMax     int
	Now             func() time.Time
}

func NewRegistry(b Broadcaster, opts Options) *Registry {
	if opts.ShareRateLimit <= 0 {
		opts.ShareRateLimit = 10
	}
	if opts.ShareRateWindow <= 0 {
		opts.ShareRateWindow = time.Minute
	}
	if opts.ShareSetMax <= 0 {
		opts.ShareSetMax = 1000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		files:     make(map[string]*fileState),
		limiter:   NewRateLimiterWithNow(opts.ShareRateLimit, opts.ShareRateWindow, now),
		shareMax:  opts.ShareSetMax,
		broadcast: b,
	}
}

type AnnounceInput struct {
	UserID          string
	DeviceID        string
	FileID          string
	MimeType        string
	FileSize        int64
	Checksum        string
	ChunkCount      int
	AvailableChunks []int
	SharedWith      []string
}

// Announce registers the device as a seeder. The first announce creates the
// file record with the caller as creator; later announces merge: sharedWith
// and the device's chunk set only grow. An announcer outside the permitted
// set is rejected so nobody can inject seeding claims for files they cannot
// access.
func (r *Registry) Announce(in AnnounceInput) (FileInfo, error) {
	if in.FileID == "" || in.ChunkCount <= 0 {
		return FileInfo{}, fmt.Errorf("%w: missing file id or chunk count", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[in.FileID]
	if !ok {
		f = &fileState{
			fileID:     in.FileID,
			creator:    in.UserID,
			mimeType:   in.MimeType,
			fileSize:   in.FileSize,
			checksum:   in.Checksum,
			chunkCount: in.ChunkCount,
			sharedWith: make(map[string]struct{}),
			seeders:    make(map[string]map[int]struct{}),
			leechers:   make(map[string]struct{}),
		}
		f.sharedWith[in.UserID] = struct{}{}
		for _, u := range in.SharedWith {
			f.sharedWith[u] = struct{}{}
		}
		r.files[in.FileID] = f
		slog.Info("file announced", "file_id", in.FileID, "creator", in.UserID, "chunks", in.ChunkCount)
	} else {
		if _, allowed := f.sharedWith[in.UserID]; !allowed {
			return FileInfo{}, fmt.Errorf("%w: access denied", domain.ErrPermission)
		}
		// Merge only: membership never shrinks on re-announce.
		for _, u := range in.SharedWith {
			f.sharedWith[u] = struct{}{}
		}
	}

	key := session.Key(in.UserID, in.DeviceID)
	chunks := f.seeders[key]
	if chunks == nil {
		chunks = make(map[int]struct{})
		f.seeders[key] = chunks
	}
	for _, c := range in.AvailableChunks {
		if c >= 0 && c < f.chunkCount {
			chunks[c] = struct{}{}
		}
	}

	return r.infoLocked(f), nil
}

// Unannounce drops only the device's seeding entry; the file record itself
// persists until the creator unshares it.
func (r *Registry) Unannounce(userID, deviceID, fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[fileID]; ok {
		key := session.Key(userID, deviceID)
		delete(f.seeders, key)
		delete(f.leechers, key)
	}
}

func (r *Registry) canAccessLocked(f *fileState, userID string) bool {
	_, ok := f.sharedWith[userID]
	return ok
}

// CanAccess reports whether the user is in the file's permitted set.
func (r *Registry) CanAccess(userID, fileID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	return ok && r.canAccessLocked(f, userID)
}

func (r *Registry) infoLocked(f *fileState) FileInfo {
	return FileInfo{
		FileID:       f.fileID,
		Creator:      f.creator,
		MimeType:     f.mimeType,
		FileSize:     f.fileSize,
		Checksum:     f.checksum,
		ChunkCount:   f.chunkCount,
		SeederCount:  len(f.seeders),
		LeecherCount: len(f.leechers),
		ChunkQuality: chunkQualityLocked(f),
	}
}

// chunkQualityLocked is the percentage of chunk indices covered by at least
// one seeder, a coarse swarm-health signal.
func chunkQualityLocked(f *fileState) float64 {
	if f.chunkCount == 0 {
		return 0
	}
	covered := make(map[int]struct{})
	for _, chunks := range f.seeders {
		for c := range chunks {
			covered[c] = struct{}{}
		}
	}
	return float64(len(covered)) / float64(f.chunkCount) * 100
}

func (r *Registry) ChunkQuality(fileID string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fileID]
	if !ok {
		return 0, fmt.Errorf("%w: file %q", domain.ErrNotFound, fileID)
	}
	return chunkQualityLocked(f), nil
}

func (r *Registry) lookup(userID, fileID string) (*fileState, error) {
	f, ok := r.files[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: file %q", domain.ErrNotFound, fileID)
	}
	if !r.canAccessLocked(f, userID) {
		return nil, fmt.Errorf("%w: access denied", domain.ErrPermission)
	}
	return f, nil
}

// UpdateAvailableChunks replaces the device's seeding bitmap.
func (r *Registry) UpdateAvailableChunks(userID, deviceID, fileID string, chunks []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.lookup(userID, fileID)
	if err != nil {
		return err
	}
	set := make(map[int]struct{}, len(chunks))
	for _, c := range chunks {
		if c >= 0 && c < f.chunkCount {
			set[c] = struct{}{}
		}
	}
	f.seeders[session.Key(userID, deviceID)] = set
	return nil
}

func (r *Registry) RegisterLeecher(userID, deviceID, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.lookup(userID, fileID)
	if err != nil {
		return err
	}
	f.leechers[session.Key(userID, deviceID)] = struct{}{}
	return nil
}

func (r *Registry) UnregisterLeecher(userID, deviceID, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.lookup(userID, fileID)
	if err != nil {
		return err
	}
	delete(f.leechers, session.Key(userID, deviceID))
	return nil
}

func (r *Registry) GetFileInfo(userID, fileID string) (FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.lookup(userID, fileID)
	if err != nil {
		return FileInfo{}, err
	}
	return r.infoLocked(f), nil
}

// GetAvailableChunks returns each seeding device's sorted chunk indices so a
// leecher can pick peers.
func (r *Registry) GetAvailableChunks(userID, fileID string) (map[string][]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.lookup(userID, fileID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]int, len(f.seeders))
	for key, chunks := range f.seeders {
		list := make([]int, 0, len(chunks))
		for c := range chunks {
			list = append(list, c)
		}
		sort.Ints(list)
		out[key] = list
	}
	return out, nil
}

// SearchFiles matches the query against file id and mime type, restricted to
// files the caller may access.
func (r *Registry) SearchFiles(userID, query string) []FileInfo {
	q := strings.ToLower(query)

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []FileInfo
	for _, f := range r.files {
		if !r.canAccessLocked(f, userID) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(f.fileID), q) && !strings.Contains(strings.ToLower(f.mimeType), q) {
			continue
		}
		out = append(out, r.infoLocked(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// GetActiveFiles lists accessible files that currently have at least one seeder.
func (r *Registry) GetActiveFiles(userID string) []FileInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []FileInfo
	for _, f := range r.files {
		if r.canAccessLocked(f, userID) && len(f.seeders) > 0 {
			out = append(out, r.infoLocked(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

func (r *Registry) GetSharedUsers(userID, fileID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.lookup(userID, fileID)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(f.sharedWith))
	for u := range f.sharedWith {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// UpdateFileShare mutates the permitted set. Adds are open to the creator,
// anyone with access, or a current seeder; revokes only to the creator or a
// user removing themself. Mutations are rate limited per user and the
// resulting set is capped; an add pushing past the cap is rejected wholesale.
func (r *Registry) UpdateFileShare(userID, fileID, action string, targets []string) error {
	if !r.limiter.Allow(userID) {
		metrics.FileShareMutationsTotal.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("%w: too many share mutations", domain.ErrRateLimited)
	}

	r.mu.Lock()
	f, ok := r.files[fileID]
	if !ok {
		r.mu.Unlock()
		metrics.FileShareMutationsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: file %q", domain.ErrNotFound, fileID)
	}

	var affected []string
	var event string

	switch action {
	case ShareActionAdd:
		if !r.mayShareLocked(f, userID) {
			r.mu.Unlock()
			metrics.FileShareMutationsTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: not allowed to share", domain.ErrPermission)
		}
		added := 0
		for _, t := range targets {
			if _, exists := f.sharedWith[t]; !exists {
				added++
			}
		}
		if len(f.sharedWith)+added > r.shareMax {
			r.mu.Unlock()
			metrics.FileShareMutationsTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: share set would exceed %d entries", domain.ErrValidation, r.shareMax)
		}
		for _, t := range targets {
			if _, exists := f.sharedWith[t]; !exists {
				f.sharedWith[t] = struct{}{}
				affected = append(affected, t)
			}
		}
		event = "fileSharedWithYou"

	case ShareActionRevoke:
		selfOnly := len(targets) == 1 && targets[0] == userID
		if userID != f.creator && !selfOnly {
			r.mu.Unlock()
			metrics.FileShareMutationsTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("%w: not allowed to revoke", domain.ErrPermission)
		}
		for _, t := range targets {
			if _, exists := f.sharedWith[t]; exists {
				delete(f.sharedWith, t)
				affected = append(affected, t)
			}
		}
		event = "fileAccessRevoked"

	default:
		r.mu.Unlock()
		metrics.FileShareMutationsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: unknown share action %q", domain.ErrValidation, action)
	}
	r.mu.Unlock()

	metrics.FileShareMutationsTotal.WithLabelValues("applied").Inc()

	// Best-effort notification; non-delivery is not an error.
	if r.broadcast != nil {
		for _, t := range affected {
			r.broadcast.BroadcastToUser(t, event, ShareNotice{FileID: fileID, By: userID})
		}
	}
	return nil
}

func (r *Registry) mayShareLocked(f *fileState, userID string) bool {
	if userID == f.creator {
		return true
	}
	if _, ok := f.sharedWith[userID]; ok {
		return true
	}
	prefix := userID + ":"
	for key := range f.seeders {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// HandleDisconnect clears the device's swarm participation across all files.
// File records stay: metadata persists even with zero active seeders.
func (r *Registry) HandleDisconnect(userID, deviceID string) {
	key := session.Key(userID, deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		delete(f.seeders, key)
		delete(f.leechers, key)
	}
}
