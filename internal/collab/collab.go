// Package collab declares the interfaces of external collaborators the core
// consumes. Their implementations live outside this process; the no-op
// versions here keep single-binary deployments working.
package collab

import "context"

// PresenceNotifier receives connection lifecycle signals for the presence
// service.
type PresenceNotifier interface {
	OnSocketConnected(userID, deviceID string)
	OnSocketDisconnected(userID, deviceID string)
	OnUserJoinedRoom(userID, roomID string)
	OnUserLeftRoom(userID, roomID string)
}

// MeetingDirectory exposes read-only participant lookups from the
// meeting/call service.
type MeetingDirectory interface {
	Participants(ctx context.Context, meetingID string) ([]string, error)
	IsActive(ctx context.Context, meetingID string) (bool, error)
}

// LicenseValidator gates process startup; it is consulted exactly once.
type LicenseValidator interface {
	Validate(ctx context.Context) error
}

type NopPresence struct{}

func (NopPresence) OnSocketConnected(string, string)    {}
func (NopPresence) OnSocketDisconnected(string, string) {}
func (NopPresence) OnUserJoinedRoom(string, string)     {}
func (NopPresence) OnUserLeftRoom(string, string)       {}

type NopLicense struct{}

func (NopLicense) Validate(context.Context) error { return nil }

// NopMeeting admits everything; deployments without a meeting service do not
// gate video key exchange.
type NopMeeting struct{}

func (NopMeeting) Participants(context.Context, string) ([]string, error) { return nil, nil }
func (NopMeeting) IsActive(context.Context, string) (bool, error)         { return true, nil }
