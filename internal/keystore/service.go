// Package keystore holds the key-exchange bootstrap material: identity keys,
// signed prekeys, one-time prekeys and per-channel sender keys. Payloads are
// opaque; only shape and length are validated.
package keystore

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"relaycore/internal/domain"
	"relaycore/internal/store"
	"relaycore/internal/writequeue"
)

// PreKeyLength is the exact decoded length a one-time prekey must have.
const PreKeyLength = 33

type Service struct {
	store *store.Store
	queue *writequeue.Queue
}

func New(st *store.Store, q *writequeue.Queue) *Service {
	return &Service{store: st, queue: q}
}

type PreKeyEntry struct {
	ID   int    `json:"id"`
	Data string `json:"data"`
}

type SignedPreKeyInfo struct {
	ID        int       `json:"id"`
	Data      string    `json:"data"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}

type Status struct {
	IdentityPresent    bool              `json:"identityPresent"`
	PreKeyCount        int64             `json:"preKeyCount"`
	LatestSignedPreKey *SignedPreKeyInfo `json:"latestSignedPreKey,omitempty"`
}

// StoreIdentity upserts the device identity and makes sure the device is in
// the device registry, so fan-out can resolve it later.
func (s *Service) StoreIdentity(ctx context.Context, owner, device, publicKey string, registrationID int) error {
	if publicKey == "" {
		return fmt.Errorf("%w: missing public key", domain.ErrValidation)
	}
	return s.queue.Do(ctx, "identity.store", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx *store.Store) error {
			if err := tx.Devices().Ensure(ctx, owner, device); err != nil {
				return err
			}
			return tx.IdentityKeys().Upsert(ctx, domain.IdentityKey{
				Owner:          owner,
				DeviceID:       device,
				PublicKey:      publicKey,
				RegistrationID: registrationID,
			})
		})
	})
}

// StoreSignedPreKey creates the key once; repeated calls with the same id
// are no-ops. Rotation uses a fresh id, existing ids are never overwritten.
func (s *Service) StoreSignedPreKey(ctx context.Context, owner, device string, id int, data, signature string) error {
	if data == "" || signature == "" {
		return fmt.Errorf("%w: missing signed prekey material", domain.ErrValidation)
	}
	return s.queue.Do(ctx, "signedprekey.store", func(ctx context.Context) error {
		return s.store.SignedPreKeys().CreateIfAbsent(ctx, domain.SignedPreKey{
			Owner:     owner,
			DeviceID:  device,
			KeyID:     id,
			Data:      data,
			Signature: signature,
			CreatedAt: time.Now().UTC(),
		})
	})
}

// StorePreKeys validates each entry independently: data must base64-decode
// to exactly PreKeyLength bytes. Invalid entries are skipped and logged,
// valid ones are persisted as one ordered batch. The returned id list is the
// complete server-side set for the device; the caller reconciles against it.
func (s *Service) StorePreKeys(ctx context.Context, owner, device string, entries []PreKeyEntry) (stored int, serverIDs []int, err error) {
	valid := make([]domain.PreKey, 0, len(entries))
	for _, e := range entries {
		raw, decErr := base64.StdEncoding.DecodeString(e.Data)
		if decErr != nil || len(raw) != PreKeyLength {
			slog.Warn("skipping malformed prekey",
				"owner", owner, "device_id", device, "key_id", e.ID,
				"decoded_len", len(raw), "decode_error", decErr,
			)
			continue
		}
		valid = append(valid, domain.PreKey{
			Owner:    owner,
			DeviceID: device,
			KeyID:    e.ID,
			Data:     e.Data,
		})
	}

	err = s.queue.Do(ctx, "prekeys.batch", func(ctx context.Context) error {
		return s.store.PreKeys().AddBatch(ctx, valid)
	})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	serverIDs, err = s.store.PreKeys().ListIDs(ctx, owner, device)
	if err != nil {
		return len(valid), nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return len(valid), serverIDs, nil
}

func (s *Service) RemovePreKey(ctx context.Context, owner, device string, id int) error {
	return s.queue.Do(ctx, "prekey.remove", func(ctx context.Context) error {
		return s.store.PreKeys().Delete(ctx, owner, device, id)
	})
}

func (s *Service) RemoveSignedPreKey(ctx context.Context, owner, device string, id int) error {
	return s.queue.Do(ctx, "signedprekey.remove", func(ctx context.Context) error {
		return s.store.SignedPreKeys().Delete(ctx, owner, device, id)
	})
}

func (s *Service) SignedPreKeys(ctx context.Context, owner, device string) ([]SignedPreKeyInfo, error) {
	keys, err := s.store.SignedPreKeys().ListForDevice(ctx, owner, device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	infos := make([]SignedPreKeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, SignedPreKeyInfo{ID: k.KeyID, Data: k.Data, Signature: k.Signature, CreatedAt: k.CreatedAt})
	}
	return infos, nil
}

func (s *Service) GetStatus(ctx context.Context, owner, device string) (Status, error) {
	var st Status

	_, err := s.store.IdentityKeys().Get(ctx, owner, device)
	switch err {
	case nil:
		st.IdentityPresent = true
	case store.ErrRecordNotFound:
	default:
		return Status{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	count, err := s.store.PreKeys().Count(ctx, owner, device)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	st.PreKeyCount = count

	latest, err := s.store.SignedPreKeys().Latest(ctx, owner, device)
	switch err {
	case nil:
		st.LatestSignedPreKey = &SignedPreKeyInfo{
			ID:        latest.KeyID,
			Data:      latest.Data,
			Signature: latest.Signature,
			CreatedAt: latest.CreatedAt,
		}
	case store.ErrRecordNotFound:
	default:
		return Status{}, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	return st, nil
}

func (s *Service) GetSenderKey(ctx context.Context, channel, device string) (string, error) {
	key, err := s.store.SenderKeys().Get(ctx, channel, device)
	if err == store.ErrRecordNotFound {
		return "", fmt.Errorf("%w: sender key", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return key.Key, nil
}

func (s *Service) StoreSenderKey(ctx context.Context, owner, channel, device, key string) error {
	if key == "" {
		return fmt.Errorf("%w: missing sender key", domain.ErrValidation)
	}
	return s.queue.Do(ctx, "senderkey.store", func(ctx context.Context) error {
		return s.store.SenderKeys().Upsert(ctx, domain.SenderKey{
			Owner:     owner,
			ChannelID: channel,
			DeviceID:  device,
			Key:       key,
		})
	})
}

// DeleteAllKeys cascades over prekeys, signed prekeys and sender keys when a
// device regenerates its identity. Each collection is deleted independently;
// one failing collection is logged and does not abort the others.
func (s *Service) DeleteAllKeys(ctx context.Context, owner, device, reason string) map[string]int64 {
	deleted := map[string]int64{}

	_ = s.queue.Do(ctx, "keys.delete_all", func(ctx context.Context) error {
		if n, err := s.store.PreKeys().DeleteAllForDevice(ctx, owner, device); err != nil {
			slog.Warn("delete prekeys failed", "owner", owner, "device_id", device, "reason", reason, "error", err)
		} else {
			deleted["preKeys"] = n
		}
		if n, err := s.store.SignedPreKeys().DeleteAllForDevice(ctx, owner, device); err != nil {
			slog.Warn("delete signed prekeys failed", "owner", owner, "device_id", device, "reason", reason, "error", err)
		} else {
			deleted["signedPreKeys"] = n
		}
		if n, err := s.store.SenderKeys().DeleteAllForDevice(ctx, owner, device); err != nil {
			slog.Warn("delete sender keys failed", "owner", owner, "device_id", device, "reason", reason, "error", err)
		} else {
			deleted["senderKeys"] = n
		}
		return nil
	})

	slog.Info("deleted signal keys", "owner", owner, "device_id", device, "reason", reason,
		"pre_keys", deleted["preKeys"], "signed_pre_keys", deleted["signedPreKeys"], "sender_keys", deleted["senderKeys"])
	return deleted
}
