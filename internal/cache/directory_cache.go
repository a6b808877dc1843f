package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/userdirectory/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDirectoryTTL = 5 * time.Minute
	directoryKey        = "users"
)

// DirectoryCache fronts a Directory with a bounded TTL. Concurrent reloads
// share one load, and a failed reload serves the last good list when one
// exists.
type DirectoryCache struct {
	source domain.Directory
	ttl    time.Duration
	store  Cache[string, []domain.UserIdentity]
	group  singleflight.Group
	log    *zap.Logger
}

func NewDirectoryCache(source domain.Directory, ttl time.Duration, clk clock.Clock, log *zap.Logger) *DirectoryCache {
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectoryCache{
		source: source,
		ttl:    ttl,
		store:  NewTTLCacheWithClock[string, []domain.UserIdentity](clk.Now),
		log:    log.Named("cache.directory"),
	}
}

func (c *DirectoryCache) ListAll(ctx context.Context) ([]domain.UserIdentity, error) {
	cached, fresh, ok := c.store.GetStale(directoryKey)
	if ok && fresh {
		return cached, nil
	}

	v, err, _ := c.group.Do(directoryKey, func() (any, error) {
		users, err := c.source.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Set(directoryKey, users, c.ttl)
		return users, nil
	})
	if err != nil {
		if ok {
			c.log.Warn("user directory reload failed, serving stale entries",
				zap.Int("entries", len(cached)),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrDirectoryUnavailable, err)
	}
	return v.([]domain.UserIdentity), nil
}

// Invalidate forces the next ListAll to reload.
func (c *DirectoryCache) Invalidate() {
	c.store.Delete(directoryKey)
}
