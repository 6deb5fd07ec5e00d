// Package lock implements the distributed per-session processing lock
// (§4.1, §3 "Session Lock") over Redis: compare-and-set acquire, TTL
// expiry as the crash safety net, and a token-checked release so a
// slow holder can never delete a lock someone else already acquired
// after its own TTL lapsed.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by TryAcquire when the key is already locked.
var ErrHeld = errors.New("lock: held by another owner")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock is the KV lock gateway of §4.1: try_acquire(key, ttl) → bool and
// release(key), no fairness, no reentrancy.
type Lock struct {
	client *redis.Client
}

func New(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// Holder is an acquired lock's handle, carrying the random token needed
// to safely release it.
type Holder struct {
	key   string
	token string
}

// TryAcquire attempts SET key token NX PX ttl. Returns (nil, ErrHeld) if
// already held by someone else.
func (l *Lock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Holder, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("try acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Holder{key: key, token: token}, nil
}

// Release best-effort deletes the lock, but only if this holder's token
// still matches — a lock whose TTL already expired and was re-acquired
// by someone else is left untouched.
func (l *Lock) Release(ctx context.Context, h *Holder) error {
	if h == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", h.key, err)
	}
	return nil
}

// SessionLockKey builds the key named in §3: session.message.insert.{id}.
func SessionLockKey(sessionID string) string {
	return "session.message.insert." + sessionID
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
