/**
 * @description
 * Single-slot locking for check-and-transfer cycles. Concurrent trigger
 * invocations for the same session must be serialized so at most one payment
 * workflow is in flight at a time, otherwise duplicate payments could be
 * created on the platform.
 */

package app

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TransferSlotKey is the lock key shared by every path that runs a
// check-and-transfer cycle. Triggered and scheduled cycles contend for the
// same slot, so the two run modes never overlap.
const TransferSlotKey = "transfer"

// TriggerLock guards the single transfer slot. Acquire is non-blocking;
// callers decide whether to wait and retry or give up.
type TriggerLock interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// LocalTriggerLock is the in-process single-slot lock used when no Redis is
// configured. It ignores the key: this process only ever serves one session.
type LocalTriggerLock struct {
	busy atomic.Bool
}

func NewLocalTriggerLock() *LocalTriggerLock {
	return &LocalTriggerLock{}
}

func (l *LocalTriggerLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	return l.busy.CompareAndSwap(false, true), nil
}

func (l *LocalTriggerLock) Release(ctx context.Context, key string) error {
	l.busy.Store(false)
	return nil
}

// releaseScript deletes the lock only while this instance still holds it, so
// an instance whose lease lapsed cannot delete a slot another instance has
// since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTriggerLock serializes cycles across replicas with a SET NX lease. The
// lease value identifies the holding instance and release is compare-and-delete.
// The TTL bounds how long a crashed holder can block other replicas; it must
// outlive the worst-case cycle (sixty status polls, each up to one HTTP
// timeout plus the poll sleep), so the default is well past that.
type RedisTriggerLock struct {
	client redis.UniversalClient
	prefix string
	holder string
	ttl    time.Duration
}

func NewRedisTriggerLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTriggerLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "piflow:transfer_lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = 45 * time.Minute
	}

	return &RedisTriggerLock{
		client: client,
		prefix: trimmedPrefix,
		holder: uuid.NewString(),
		ttl:    ttl,
	}
}

func (r *RedisTriggerLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+":"+key, r.holder, r.ttl).Result()
}

func (r *RedisTriggerLock) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{r.prefix + ":" + key}, r.holder).Err()
}
