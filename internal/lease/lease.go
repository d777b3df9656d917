package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"spaces-summarizer/internal/models"
)

// Registry enforces the one-active-pipeline-per-requester invariant with
// a Redis lease. The lease is acquired when a pipeline enters
// awaiting_payment and released on any terminal transition. The TTL
// bounds the lease lifetime so a crashed pipeline recovers on its own;
// an expired lease surfaces to the holder as stale.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func New(client *redis.Client, ttl time.Duration) *Registry {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Registry{
		client: client,
		ttl:    ttl,
		prefix: "pipeline:lease:",
	}
}

func (r *Registry) key(requester string) string {
	return r.prefix + requester
}

// Acquire claims the requester's pipeline slot. Returns the lease token
// on success and ErrAlreadyInProgress when a non-terminal pipeline holds
// the slot.
func (r *Registry) Acquire(ctx context.Context, requester string) (string, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, r.key(requester), token, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return "", models.ErrAlreadyInProgress
	}
	return token, nil
}

// Release frees the slot if the token still owns it. Releasing with a
// foreign or expired token is a no-op so a stale pipeline cannot free a
// successor's lease.
func (r *Registry) Release(ctx context.Context, requester, token string) error {
	err := releaseScript.Run(ctx, r.client, []string{r.key(requester)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Validate reports whether the token still owns the requester's slot.
// A false result means the lease expired (or was taken over) and the
// holding pipeline must terminate as stale.
func (r *Registry) Validate(ctx context.Context, requester, token string) (bool, error) {
	val, err := r.client.Get(ctx, r.key(requester)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate lease: %w", err)
	}
	return val == token, nil
}

// Held reports whether any pipeline currently holds the requester's slot.
func (r *Registry) Held(ctx context.Context, requester string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(requester)).Result()
	if err != nil {
		return false, fmt.Errorf("check lease: %w", err)
	}
	return n > 0, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
