package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Suppressor drops rapid resubmissions of the same identity to the same
// distribution unit, absorbing double-clicks and webhook redeliveries before
// they reach the pipeline. It is advisory: on Redis failure it reports
// "not seen" so capture keeps working without the cache.
type Suppressor struct {
	rdb    *redis.Client
	window time.Duration
	log    *logger.Logger
}

func NewSuppressor(rdb *redis.Client, window time.Duration, log *logger.Logger) *Suppressor {
	return &Suppressor{rdb: rdb, window: window, log: log}
}

// SeenRecently atomically marks the identity as seen and reports whether it
// was already marked inside the window. Identity-less submissions are never
// suppressed.
func (s *Suppressor) SeenRecently(ctx context.Context, orgID uuid.UUID, unitKey, email, phone string) bool {
	if s == nil || s.rdb == nil {
		return false
	}
	if email == "" && phone == "" {
		return false
	}

	key := suppressionKey(orgID, unitKey, email, phone)
	created, err := s.rdb.SetNX(ctx, key, 1, s.window).Result()
	if err != nil {
		s.log.Warn("suppression cache unavailable", "error", err)
		return false
	}
	return !created
}

func suppressionKey(orgID uuid.UUID, unitKey, email, phone string) string {
	sum := sha256.Sum256([]byte(unitKey + "\x00" + email + "\x00" + phone))
	return "capture:suppress:" + orgID.String() + ":" + hex.EncodeToString(sum[:])
}
