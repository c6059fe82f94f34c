// AngelaMos | 2026
// gate.go

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/modelforge/internal/core"
)

// Locker hands out short-lived exclusive locks keyed by user.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "lock:conversion:",
	}
}

// Lock returns core.ErrConversionInProgress while another holder owns key.
// The lock expires on its own after ttl if the holder never unlocks.
func (l *RedisLocker) Lock(
	ctx context.Context,
	key string,
	ttl time.Duration,
) (func(context.Context) error, error) {
	token, err := core.GenerateSecureToken(16)
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	redisKey := l.prefix + core.HashToken(key)

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock: %w", core.ErrConversionInProgress)
	}

	unlock := func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// Gate sits in front of the conversion proxy. It refuses users without
// credits, serialises each user's conversions, and debits exactly one
// credit only when a conversion succeeds.
type Gate struct {
	service *Service
	locker  Locker
	ttl     time.Duration
	logger  *slog.Logger
}

func NewGate(service *Service, locker Locker, ttl time.Duration) *Gate {
	return &Gate{
		service: service,
		locker:  locker,
		ttl:     ttl,
		logger:  service.logger,
	}
}

func (g *Gate) Acquire(ctx context.Context, key, name string) (*Reservation, error) {
	record, err := g.service.EnsureAccount(ctx, key, name)
	if err != nil {
		return nil, err
	}
	if !record.CanConvert() {
		return nil, fmt.Errorf("acquire: %w", core.ErrInsufficientCredits)
	}

	unlock, err := g.locker.Lock(ctx, record.Email, g.ttl)
	if err != nil {
		return nil, err
	}

	// A conversion that finished between the first read and the lock may
	// have spent the last credit.
	record, err = g.service.Balance(ctx, record.Email)
	if err == nil && !record.CanConvert() {
		err = fmt.Errorf("acquire: %w", core.ErrInsufficientCredits)
	}
	if err != nil {
		//nolint:errcheck // lock expires on its own
		_ = unlock(context.WithoutCancel(ctx))
		return nil, err
	}

	return &Reservation{
		gate:    g,
		key:     record.Email,
		balance: record.GenerationsLeft,
		unlock:  unlock,
	}, nil
}

// Reservation is a held conversion slot. Exactly one of Commit or Release
// takes effect; later calls are no-ops.
type Reservation struct {
	gate    *Gate
	key     string
	balance int
	unlock  func(context.Context) error
	once    sync.Once
}

func (r *Reservation) Key() string {
	return r.key
}

// Balance is the balance observed when the reservation was taken.
func (r *Reservation) Balance() int {
	return r.balance
}

// Commit debits one credit after a successful conversion.
func (r *Reservation) Commit(ctx context.Context) (int, error) {
	balance := r.balance
	err := errors.New("reservation already finished")

	r.once.Do(func() {
		ctx = context.WithoutCancel(ctx)
		defer r.release(ctx)
		balance, err = r.gate.service.Debit(ctx, r.key)
	})

	return balance, err
}

// Release gives up the slot without touching the balance.
func (r *Reservation) Release(ctx context.Context) {
	r.once.Do(func() {
		r.release(context.WithoutCancel(ctx))
	})
}

func (r *Reservation) release(ctx context.Context) {
	if err := r.unlock(ctx); err != nil {
		r.gate.logger.Warn("release conversion lock failed",
			"user", r.key,
			"error", err,
		)
	}
}
