package capture

import (
	"context"
	"testing"
	"time"

	"leadhub_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestSuppressor(t *testing.T) (*Suppressor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSuppressor(rdb, 60*time.Second, logger.New("development")), mr
}

func TestSeenRecently_SuppressesWithinWindow(t *testing.T) {
	s, mr := newTestSuppressor(t)
	ctx := context.Background()
	orgID := uuid.New()

	if s.SeenRecently(ctx, orgID, "form-1", "jane@test.com", "") {
		t.Fatal("first submission must not be suppressed")
	}
	if !s.SeenRecently(ctx, orgID, "form-1", "jane@test.com", "") {
		t.Fatal("immediate resubmission must be suppressed")
	}

	mr.FastForward(61 * time.Second)
	if s.SeenRecently(ctx, orgID, "form-1", "jane@test.com", "") {
		t.Fatal("submission after the window must pass")
	}
}

func TestSeenRecently_ScopesByOrgUnitAndIdentity(t *testing.T) {
	s, _ := newTestSuppressor(t)
	ctx := context.Background()
	orgID := uuid.New()

	if s.SeenRecently(ctx, orgID, "form-1", "jane@test.com", "") {
		t.Fatal("first submission must pass")
	}
	if s.SeenRecently(ctx, uuid.New(), "form-1", "jane@test.com", "") {
		t.Fatal("different organization must not be suppressed")
	}
	if s.SeenRecently(ctx, orgID, "form-2", "jane@test.com", "") {
		t.Fatal("different unit must not be suppressed")
	}
	if s.SeenRecently(ctx, orgID, "form-1", "other@test.com", "") {
		t.Fatal("different identity must not be suppressed")
	}
}

func TestSeenRecently_FailsOpen(t *testing.T) {
	s, mr := newTestSuppressor(t)
	ctx := context.Background()
	orgID := uuid.New()

	mr.Close()
	if s.SeenRecently(ctx, orgID, "form-1", "jane@test.com", "") {
		t.Fatal("cache failure must report not-seen")
	}
}

func TestSeenRecently_NeverSuppressesIdentityless(t *testing.T) {
	s, _ := newTestSuppressor(t)
	ctx := context.Background()
	orgID := uuid.New()

	for i := 0; i < 3; i++ {
		if s.SeenRecently(ctx, orgID, "form-1", "", "") {
			t.Fatal("identity-less submissions are never suppressed")
		}
	}
}

func TestSeenRecently_NilSuppressorIsNoop(t *testing.T) {
	var s *Suppressor
	if s.SeenRecently(context.Background(), uuid.New(), "form-1", "jane@test.com", "") {
		t.Fatal("nil suppressor must report not-seen")
	}
}
