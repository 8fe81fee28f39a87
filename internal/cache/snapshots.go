// Package cache keeps the last observed payment ticket snapshot per token so
// a reloaded return-URL page can render something meaningful before its
// first poll settles. The cache is advisory: every miss or redis failure is
// answered by polling, never by an error.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/pkg/models"
)

const snapshotKeyPrefix = "payment:snapshot:"

// Snapshots is a nil-safe ticket snapshot cache. A Snapshots with no redis
// client behind it silently drops writes and misses every read.
type Snapshots struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshots creates a snapshot cache. rdb may be nil when redis is not
// configured.
func NewSnapshots(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Snapshots {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Snapshots{rdb: rdb, ttl: ttl, logger: logger}
}

// Put stores the latest ticket snapshot for its token.
func (s *Snapshots) Put(ctx context.Context, ticket *models.PaymentTicket) {
	if s == nil || s.rdb == nil || ticket == nil || ticket.Token == "" {
		return
	}
	payload, err := json.Marshal(ticket)
	if err != nil {
		s.logger.Debug("snapshot marshal failed", zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, snapshotKeyPrefix+ticket.Token, payload, s.ttl).Err(); err != nil {
		s.logger.Debug("snapshot write failed", zap.String("token", ticket.Token), zap.Error(err))
	}
}

// Get returns the cached snapshot for a token, or nil on miss.
func (s *Snapshots) Get(ctx context.Context, token string) *models.PaymentTicket {
	if s == nil || s.rdb == nil || token == "" {
		return nil
	}
	payload, err := s.rdb.Get(ctx, snapshotKeyPrefix+token).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug("snapshot read failed", zap.String("token", token), zap.Error(err))
		}
		return nil
	}
	var ticket models.PaymentTicket
	if err := json.Unmarshal(payload, &ticket); err != nil {
		s.logger.Debug("snapshot decode failed", zap.String("token", token), zap.Error(err))
		return nil
	}
	return &ticket
}
