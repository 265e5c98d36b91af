// Package tokenstore implements the Refresh-Token Store (C9): issuance,
// constant-time verification, revocation, and idempotent cleanup of
// refresh tokens. Plaintext tokens are never persisted — only their
// SHA-256 digest.
package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

const tokenBytes = 32

// Store is the persistence surface tokenstore needs; kept narrow so this
// package never imports internal/storage directly.
type Store interface {
	InsertRefreshToken(ctx context.Context, row model.RefreshToken) error
	GetRefreshToken(ctx context.Context, jti string) (model.RefreshToken, error)
	TouchLastUsed(ctx context.Context, jti string, at time.Time) error
	RevokeToken(ctx context.Context, jti, reason string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) error
	RevokeDevice(ctx context.Context, userID, deviceID, reason string, at time.Time) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenStore issues, verifies, and revokes refresh tokens over a Store.
type TokenStore struct {
	store       Store
	ttl         time.Duration
	gracePeriod time.Duration
}

// New constructs a TokenStore. ttl is how long an issued token remains
// valid (30 days when zero); gracePeriod extends how long an expired row
// lingers before Cleanup deletes it (useful for diagnosing just-expired
// sessions).
func New(store Store, ttl, gracePeriod time.Duration) *TokenStore {
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	if gracePeriod < 0 {
		gracePeriod = 0
	}
	return &TokenStore{store: store, ttl: ttl, gracePeriod: gracePeriod}
}

// Issue mints a new refresh token for userID (optionally scoped to
// deviceID), returning the plaintext token and its jti. The caller is
// the only party that ever holds the plaintext; only its hash is stored.
func (t *TokenStore) Issue(ctx context.Context, userID, deviceID, ip, userAgent string) (token string, jti string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", baluerr.Wrap(baluerr.KindIO, "tokenstore.issue", err)
	}
	token = encodeToken(raw)
	jti = uuid.NewString()

	now := time.Now()
	row := model.RefreshToken{
		JTI:       jti,
		UserID:    userID,
		DeviceID:  deviceID,
		Hash:      sha256.Sum256(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(t.ttl),
		IP:        ip,
		UserAgent: userAgent,
	}
	if err := t.store.InsertRefreshToken(ctx, row); err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// Verify checks a presented token against the claimed jti. On success it
// updates lastUsedAt and returns the row's userId/deviceId.
func (t *TokenStore) Verify(ctx context.Context, jti, presented string) (userID, deviceID string, err error) {
	row, err := t.store.GetRefreshToken(ctx, jti)
	if err != nil {
		return "", "", err
	}
	if row.RevokedAt != nil {
		return "", "", baluerr.New(baluerr.KindTokenRevoked, "tokenstore.verify", "token has been revoked")
	}
	if !time.Now().Before(row.ExpiresAt) {
		return "", "", baluerr.New(baluerr.KindTokenExpired, "tokenstore.verify", "token has expired")
	}

	raw, decodeErr := decodeToken(presented)
	if decodeErr != nil {
		return "", "", baluerr.New(baluerr.KindUnauthenticated, "tokenstore.verify", "malformed token")
	}
	sum := sha256.Sum256(raw)
	if subtle.ConstantTimeCompare(sum[:], row.Hash[:]) != 1 {
		return "", "", baluerr.New(baluerr.KindUnauthenticated, "tokenstore.verify", "token does not match")
	}

	if err := t.store.TouchLastUsed(ctx, jti, time.Now()); err != nil {
		return "", "", err
	}
	return row.UserID, row.DeviceID, nil
}

// Revoke invalidates a single token.
func (t *TokenStore) Revoke(ctx context.Context, jti, reason string) error {
	return t.store.RevokeToken(ctx, jti, reason, time.Now())
}

// RevokeAllForUser invalidates every refresh token for a user — used on
// password change.
func (t *TokenStore) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	return t.store.RevokeAllForUser(ctx, userID, reason, time.Now())
}

// RevokeDevice invalidates every refresh token a user has issued from
// one device.
func (t *TokenStore) RevokeDevice(ctx context.Context, userID, deviceID, reason string) error {
	return t.store.RevokeDevice(ctx, userID, deviceID, reason, time.Now())
}

// Cleanup deletes rows whose expiresAt is older than now - gracePeriod.
// It is idempotent — running it twice in a row with nothing newly
// expired deletes zero rows both times. It is the body of the
// token-cleanup scheduled job and is also called by the
// `baluhostctl tokens cleanup` command.
func (t *TokenStore) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-t.gracePeriod)
	return t.store.DeleteExpiredBefore(ctx, cutoff)
}

func encodeToken(raw []byte) string {
	return hex.EncodeToString(raw)
}

func decodeToken(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindParse, "tokenstore.decodeToken", err)
	}
	return raw, nil
}
