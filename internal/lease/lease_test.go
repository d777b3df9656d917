package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"spaces-summarizer/internal/models"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, time.Minute), mr
}

func TestAcquireIsExclusivePerRequester(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	token, err := reg.Acquire(ctx, "user-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected a lease token")
	}

	if _, err := reg.Acquire(ctx, "user-1"); !errors.Is(err, models.ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}

	// A different requester is unaffected.
	if _, err := reg.Acquire(ctx, "user-2"); err != nil {
		t.Fatalf("other requester blocked: %v", err)
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	token, err := reg.Acquire(ctx, "user-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := reg.Release(ctx, "user-1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := reg.Acquire(ctx, "user-1"); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestForeignTokenCannotRelease(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	token, err := reg.Acquire(ctx, "user-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := reg.Release(ctx, "user-1", "not-the-token"); err != nil {
		t.Fatalf("release with foreign token: %v", err)
	}
	held, err := reg.Held(ctx, "user-1")
	if err != nil || !held {
		t.Fatalf("lease should still be held, held=%v err=%v", held, err)
	}
	ok, err := reg.Validate(ctx, "user-1", token)
	if err != nil || !ok {
		t.Fatalf("original token should still validate, ok=%v err=%v", ok, err)
	}
}

func TestExpiredLeaseIsStale(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	token, err := reg.Acquire(ctx, "user-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	ok, err := reg.Validate(ctx, "user-1", token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Fatal("expired lease must not validate")
	}
	// The slot is free again for a fresh pipeline.
	if _, err := reg.Acquire(ctx, "user-1"); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}
