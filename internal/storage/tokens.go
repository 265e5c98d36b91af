package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// TokenRepository implements tokenstore.Store against PostgreSQL.
type TokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

type refreshTokenRow struct {
	JTI              string       `db:"jti"`
	UserID           string       `db:"user_id"`
	DeviceID         string       `db:"device_id"`
	Hash             []byte       `db:"hash"`
	IssuedAt         time.Time    `db:"issued_at"`
	ExpiresAt        time.Time    `db:"expires_at"`
	RevokedAt        sql.NullTime `db:"revoked_at"`
	RevocationReason string       `db:"revocation_reason"`
	IP               string       `db:"ip"`
	UserAgent        string       `db:"user_agent"`
	LastUsedAt       sql.NullTime `db:"last_used_at"`
}

func (r refreshTokenRow) toModel() model.RefreshToken {
	out := model.RefreshToken{
		JTI:              r.JTI,
		UserID:           r.UserID,
		DeviceID:         r.DeviceID,
		IssuedAt:         r.IssuedAt,
		ExpiresAt:        r.ExpiresAt,
		RevocationReason: r.RevocationReason,
		IP:               r.IP,
		UserAgent:        r.UserAgent,
	}
	copy(out.Hash[:], r.Hash)
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		out.RevokedAt = &t
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		out.LastUsedAt = &t
	}
	return out
}

func (r *TokenRepository) InsertRefreshToken(ctx context.Context, row model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, device_id, hash, issued_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.JTI, row.UserID, row.DeviceID, row.Hash[:], row.IssuedAt, row.ExpiresAt, row.IP, row.UserAgent)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.insertRefreshToken", err)
	}
	return nil
}

func (r *TokenRepository) GetRefreshToken(ctx context.Context, jti string) (model.RefreshToken, error) {
	var row refreshTokenRow
	err := r.db.GetContext(ctx, &row, `
		SELECT jti, user_id, device_id, hash, issued_at, expires_at, revoked_at,
		       revocation_reason, ip, user_agent, last_used_at
		FROM refresh_tokens WHERE jti = $1`, jti)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, baluerr.New(baluerr.KindNotFound, "storage.getRefreshToken", "token "+jti)
	}
	if err != nil {
		return model.RefreshToken{}, baluerr.Wrap(baluerr.KindIO, "storage.getRefreshToken", err)
	}
	return row.toModel(), nil
}

func (r *TokenRepository) TouchLastUsed(ctx context.Context, jti string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET last_used_at = $1 WHERE jti = $2`, at, jti)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.touchLastUsed", err)
	}
	return nil
}

func (r *TokenRepository) RevokeToken(ctx context.Context, jti, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1, revocation_reason = $2
		WHERE jti = $3 AND revoked_at IS NULL`, at, reason, jti)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.revokeToken", err)
	}
	return nil
}

func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1, revocation_reason = $2
		WHERE user_id = $3 AND revoked_at IS NULL`, at, reason, userID)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.revokeAllForUser", err)
	}
	return nil
}

func (r *TokenRepository) RevokeDevice(ctx context.Context, userID, deviceID, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1, revocation_reason = $2
		WHERE user_id = $3 AND device_id = $4 AND revoked_at IS NULL`, at, reason, userID, deviceID)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.revokeDevice", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, baluerr.Wrap(baluerr.KindIO, "storage.deleteExpiredBefore", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, baluerr.Wrap(baluerr.KindIO, "storage.deleteExpiredBefore", err)
	}
	return n, nil
}
