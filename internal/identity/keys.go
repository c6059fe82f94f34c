// AngelaMos | 2026
// keys.go

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// KeySource yields the identity provider's public signing keys. A forced
// refresh is requested when a token names a key the cached set lacks.
type KeySource interface {
	KeySet(ctx context.Context, forceRefresh bool) (jwk.Set, error)
}

type StaticKeys struct {
	set jwk.Set
}

func NewStaticKeys(set jwk.Set) *StaticKeys {
	return &StaticKeys{set: set}
}

func (s *StaticKeys) KeySet(context.Context, bool) (jwk.Set, error) {
	return s.set, nil
}

// RemoteKeys fetches a JWKS document and caches it for the refresh
// interval. Forced refreshes are throttled to one per minRefresh.
type RemoteKeys struct {
	url        string
	interval   time.Duration
	minRefresh time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	set       jwk.Set
	fetchedAt time.Time
}

func NewRemoteKeys(url string, interval time.Duration, logger *slog.Logger) *RemoteKeys {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &RemoteKeys{
		url:        url,
		interval:   interval,
		minRefresh: 30 * time.Second,
		logger:     logger,
	}
}

func (k *RemoteKeys) KeySet(ctx context.Context, forceRefresh bool) (jwk.Set, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	age := time.Since(k.fetchedAt)
	stale := k.set == nil || age >= k.interval
	if forceRefresh && age >= k.minRefresh {
		stale = true
	}

	if !stale {
		return k.set, nil
	}

	set, err := jwk.Fetch(ctx, k.url)
	if err != nil {
		if k.set != nil {
			k.logger.Warn("jwks refresh failed, using cached keys",
				"url", k.url,
				"error", err,
			)
			return k.set, nil
		}
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}

	k.set = set
	k.fetchedAt = time.Now()
	k.logger.Debug("jwks refreshed", "url", k.url, "keys", set.Len())

	return set, nil
}
