// Package authn resolves connection credentials into a single AuthContext.
// Two credential paths exist: a session token (HS256 JWT minted by the user
// session layer) and a signed request (ed25519 signature over a challenge
// the server issued for this connection). Both converge on the same
// capability object, resolved once per connection and passed to handlers.
package authn

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"relaycore/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

type AuthContext struct {
	UserID   string
	DeviceID string
}

// KeyResolver looks up the ed25519 verification key a device registered out
// of band.
type KeyResolver interface {
	PublicKey(ctx context.Context, userID, deviceID string) (ed25519.PublicKey, error)
}

type Authenticator struct {
	secret []byte
	issuer string
	keys   KeyResolver
}

func New(secret, issuer string, keys KeyResolver) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, keys: keys}
}

// NewChallenge returns a random nonce the connection hands to clients using
// the signed-request path.
func NewChallenge() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

// VerifyToken validates the session-token path: HS256 only, issuer checked,
// identity carried in sub (user) and did (device).
func (a *Authenticator) VerifyToken(tokenStr string) (AuthContext, error) {
	if len(a.secret) == 0 {
		return AuthContext{}, fmt.Errorf("%w: token auth not configured", domain.ErrUnauthenticated)
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return AuthContext{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AuthContext{}, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthenticated)
	}
	if iss, _ := claims["iss"].(string); iss != "" && a.issuer != "" && iss != a.issuer {
		return AuthContext{}, fmt.Errorf("%w: issuer mismatch", domain.ErrUnauthenticated)
	}
	sub, _ := claims["sub"].(string)
	did, _ := claims["did"].(string)
	if sub == "" || did == "" {
		return AuthContext{}, fmt.Errorf("%w: token missing identity", domain.ErrUnauthenticated)
	}
	return AuthContext{UserID: sub, DeviceID: did}, nil
}

// VerifySignedRequest validates the signed-request path: the device signs
// the connection's challenge with its registered ed25519 key.
func (a *Authenticator) VerifySignedRequest(ctx context.Context, userID, deviceID, challengeB64, signatureB64 string) (AuthContext, error) {
	if a.keys == nil {
		return AuthContext{}, fmt.Errorf("%w: signed-request auth not configured", domain.ErrUnauthenticated)
	}
	if userID == "" || deviceID == "" {
		return AuthContext{}, fmt.Errorf("%w: missing identity", domain.ErrUnauthenticated)
	}

	pub, err := a.keys.PublicKey(ctx, userID, deviceID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return AuthContext{}, fmt.Errorf("%w: unknown device key", domain.ErrUnauthenticated)
	}

	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil || len(challenge) == 0 {
		return AuthContext{}, fmt.Errorf("%w: invalid challenge", domain.ErrUnauthenticated)
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return AuthContext{}, fmt.Errorf("%w: invalid signature", domain.ErrUnauthenticated)
	}

	if !ed25519.Verify(pub, challenge, signature) {
		return AuthContext{}, fmt.Errorf("%w: signature verification failed", domain.ErrUnauthenticated)
	}
	return AuthContext{UserID: userID, DeviceID: deviceID}, nil
}
