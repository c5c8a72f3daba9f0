// Package revocation records invalidated session tokens so the
// authentication layer can reject them until they expire on their own.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"calbook/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the durable revocation surface.
type Store interface {
	UpsertRevocation(ctx context.Context, tokenHash string, expiresAt time.Time) error
	HasRevocation(ctx context.Context, tokenHash string) (bool, error)
	PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

// Service keeps SHA-256 hashes of revoked tokens in the store, with an
// optional Redis cache in front of positive lookups.
type Service struct {
	store    Store
	redis    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewService creates a revocation service. redisClient may be nil.
func NewService(store Store, redisClient *redis.Client, cacheTTL time.Duration, logger *zerolog.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		store:    store,
		redis:    redisClient,
		cacheTTL: cacheTTL,
		logger:   logger.With().Str("component", "revocation").Logger(),
	}
}

// HashToken returns the SHA-256 hex digest under which a token is stored.
// Raw tokens never reach the database.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Revoke records the token as invalid until it expires.
func (s *Service) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	hash := HashToken(token)
	if err := s.store.UpsertRevocation(ctx, hash, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.cacheHit(ctx, hash, time.Until(expiresAt))

	s.logger.Info().Time("expires_at", expiresAt).Msg("token revoked")
	return nil
}

// IsRevoked reports whether the token has been revoked. A revocation is
// authoritative even past its expiry; expiry only gates purging.
func (s *Service) IsRevoked(ctx context.Context, token string) (bool, error) {
	hash := HashToken(token)

	// Fast path: a confirmed revocation cached in Redis.
	if s.redis != nil {
		val, err := s.redis.Get(ctx, cacheKey(hash)).Result()
		if err == nil && val == "1" {
			return true, nil
		}
		if err != nil && err != redis.Nil {
			s.logger.Debug().Err(err).Msg("revocation cache read failed")
		}
	}

	revoked, err := s.store.HasRevocation(ctx, hash)
	if err != nil {
		return false, err
	}
	if revoked {
		s.cacheHit(ctx, hash, s.cacheTTL)
	}
	return revoked, nil
}

// StartPurgeLoop periodically deletes expired revocations until ctx is done.
func (s *Service) StartPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("revocation purge loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.store.PurgeExpiredRevocations(ctx, time.Now())
			if err != nil {
				s.logger.Error().Err(err).Msg("purge expired revocations failed")
				continue
			}
			if removed > 0 {
				metrics.AddRevocationsPurged(removed)
				s.logger.Info().Int64("removed", removed).Msg("purged expired revocations")
			}
		}
	}
}

func (s *Service) cacheHit(ctx context.Context, hash string, ttl time.Duration) {
	if s.redis == nil || ttl <= 0 {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(hash), "1", ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("revocation cache write failed")
	}
}

func cacheKey(hash string) string {
	return "revoked:" + hash
}
