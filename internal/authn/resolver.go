package authn

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"relaycore/internal/domain"
	"relaycore/internal/store"
)

// StoreResolver resolves signed-request verification keys from the device's
// registered identity key.
type StoreResolver struct {
	store *store.Store
}

func NewStoreResolver(st *store.Store) *StoreResolver {
	return &StoreResolver{store: st}
}

func (r *StoreResolver) PublicKey(ctx context.Context, userID, deviceID string) (ed25519.PublicKey, error) {
	ik, err := r.store.IdentityKeys().Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no identity key for %s:%s", domain.ErrNotFound, userID, deviceID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	raw, err := base64.StdEncoding.DecodeString(ik.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: identity key is not base64", domain.ErrValidation)
	}
	// Identity keys are stored with a leading key-type byte.
	if len(raw) == ed25519.PublicKeySize+1 {
		raw = raw[1:]
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: identity key has unexpected length %d", domain.ErrValidation, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
