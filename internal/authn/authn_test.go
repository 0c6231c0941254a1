package authn_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"relaycore/internal/authn"
	"relaycore/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret, issuer, sub, did string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": sub,
		"did": did,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyToken(t *testing.T) {
	a := authn.New(testSecret, "relaycore", nil)

	ac, err := a.VerifyToken(mintToken(t, testSecret, "relaycore", "alice", "d1"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ac.UserID != "alice" || ac.DeviceID != "d1" {
		t.Fatalf("unexpected auth context: %+v", ac)
	}
}

func TestVerifyTokenRejectsBadCredentials(t *testing.T) {
	a := authn.New(testSecret, "relaycore", nil)

	cases := map[string]string{
		"wrong secret":   mintToken(t, "other-secret", "relaycore", "alice", "d1"),
		"wrong issuer":   mintToken(t, testSecret, "someone-else", "alice", "d1"),
		"missing device": mintToken(t, testSecret, "relaycore", "alice", ""),
		"garbage":        "not-a-token",
	}
	for name, tok := range cases {
		if _, err := a.VerifyToken(tok); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("%s: expected authentication error, got %v", name, err)
		}
	}
}

type staticKeys map[string]ed25519.PublicKey

func (s staticKeys) PublicKey(ctx context.Context, userID, deviceID string) (ed25519.PublicKey, error) {
	if k, ok := s[userID+":"+deviceID]; ok {
		return k, nil
	}
	return nil, errors.New("unknown device")
}

func TestVerifySignedRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a := authn.New("", "", staticKeys{"alice:d1": pub})

	challenge := authn.NewChallenge()
	raw, _ := base64.StdEncoding.DecodeString(challenge)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, raw))

	ac, err := a.VerifySignedRequest(context.Background(), "alice", "d1", challenge, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ac.UserID != "alice" || ac.DeviceID != "d1" {
		t.Fatalf("unexpected auth context: %+v", ac)
	}

	// A signature over a different challenge must fail.
	if _, err := a.VerifySignedRequest(context.Background(), "alice", "d1", authn.NewChallenge(), sig); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected authentication error for stale signature, got %v", err)
	}

	// Unknown devices fail regardless of the signature.
	if _, err := a.VerifySignedRequest(context.Background(), "bob", "d1", challenge, sig); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected authentication error for unknown device, got %v", err)
	}
}
