package issuer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPendingPrefix namespaces pending ids in redis.
const DefaultPendingPrefix = "certhub:pending:"

// Reservations holds the id queued for an email until the worker has written it,
// so requests arriving before the write reuse that id.
type Reservations interface {
	// Reserve holds id for email unless another id is already held. It returns the held id.
	Reserve(ctx context.Context, email, id string) (string, error)
	// Release drops the hold on email if it is still id.
	Release(ctx context.Context, email, id string) error
}

// MemoryReservations backs the in-memory queue, which is drained in the same process.
type MemoryReservations struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryReservations() *MemoryReservations {
	return &MemoryReservations{held: map[string]string{}}
}

func (m *MemoryReservations) Reserve(_ context.Context, email, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.held[email]; ok {
		return held, nil
	}
	m.held[email] = id
	return id, nil
}

func (m *MemoryReservations) Release(_ context.Context, email, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[email] == id {
		delete(m.held, email)
	}
	return nil
}

// Held reports the id currently held for email.
func (m *MemoryReservations) Held(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.held[email]
	return id, ok
}

// RedisReservations shares holds between api replicas and the worker. Holds
// expire after ttl so a lost job does not pin an id forever.
type RedisReservations struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisReservations(client *redis.Client, prefix string, ttl time.Duration) *RedisReservations {
	if prefix == "" {
		prefix = DefaultPendingPrefix
	}
	return &RedisReservations{client: client, prefix: prefix, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisReservations) Reserve(ctx context.Context, email, id string) (string, error) {
	key := r.prefix + email
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := r.client.SetNX(ctx, key, id, r.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("reserve %s: %w", email, err)
		}
		if ok {
			return id, nil
		}
		held, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// released between SETNX and GET
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read reservation %s: %w", email, err)
		}
		return held, nil
	}
	return "", fmt.Errorf("reserve %s: hold keeps changing", email)
}

func (r *RedisReservations) Release(ctx context.Context, email, id string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + email}, id).Err(); err != nil {
		return fmt.Errorf("release %s: %w", email, err)
	}
	return nil
}
