package database

import (
	"context"
	"fmt"
	"time"
)

// UpsertRevocation records a revoked token hash with its expiry.
func (db *DB) UpsertRevocation(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO token_revocations (token_hash, expires_at)
		VALUES (?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET expires_at = excluded.expires_at`,
		tokenHash, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert revocation: %w", err)
	}
	return nil
}

// HasRevocation reports whether a token hash is recorded as revoked.
func (db *DB) HasRevocation(ctx context.Context, tokenHash string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM token_revocations WHERE token_hash = ?", tokenHash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return count > 0, nil
}

// PurgeExpiredRevocations removes entries whose expiry has passed and returns
// the number deleted. Expired entries are inert; this is housekeeping only.
func (db *DB) PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		"DELETE FROM token_revocations WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge revocations: %w", err)
	}
	return res.RowsAffected()
}
