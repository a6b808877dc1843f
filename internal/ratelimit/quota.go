package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyDailyQuota = "insightdesk:quota:%s:%s"

// Consume increments only while under the limit, so the stored count never
// exceeds max. The key expires at the next local midnight.
const consumeScript = `
local max = tonumber(ARGV[1])
local reset_at = tonumber(ARGV[2])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= max then
  return {0, current}
end
current = redis.call("INCR", KEYS[1])
redis.call("EXPIREAT", KEYS[1], reset_at)
return {1, current}
`

// Release returns a consumed unit without going below zero.
const releaseScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= 0 then
  return 0
end
return redis.call("DECR", KEYS[1])
`

var ErrInvalidUser = errors.New("invalid_user_id")

// Usage is a user's position against the daily insight quota.
type Usage struct {
	UserID    string    `json:"user_id"`
	Current   int64     `json:"current_usage"`
	Max       int64     `json:"max_usage"`
	ResetAt   time.Time `json:"reset_at"`
	Exceeded  bool      `json:"exceeded"`
	Remaining int64     `json:"remaining"`
}

// Quota tracks per-user daily insight generation.
type Quota interface {
	// Consume records one generation. allowed is false when the user was
	// already at the limit; the count is not advanced in that case.
	Consume(ctx context.Context, userID string) (usage Usage, allowed bool, err error)
	// Release gives back a unit taken by Consume whose insight was never
	// stored.
	Release(ctx context.Context, userID string) (Usage, error)
	Get(ctx context.Context, userID string) (Usage, error)
	Reset(ctx context.Context, userID string) (Usage, error)
}

type QuotaParams struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewQuota(p QuotaParams) Quota {
	return NewDailyQuota(p.Client, int64(p.Config.Insight.DailyQuota), p.Config.Insight.LoadLocation(), p.Clock, p.Log)
}

// DailyQuota counts in redis when a client is configured and in memory
// otherwise.
type DailyQuota struct {
	client  *redis.Client
	script  *redis.Script
	release *redis.Script
	max     int64
	loc     *time.Location
	clock   clock.Clock
	log     *zap.Logger

	mu     sync.Mutex
	counts map[string]int64
}

func NewDailyQuota(client *redis.Client, max int64, loc *time.Location, clk clock.Clock, log *zap.Logger) *DailyQuota {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &DailyQuota{
		client: client,
		max:    max,
		loc:    loc,
		clock:  clk,
		log:    log.Named("ratelimit.quota"),
		counts: make(map[string]int64),
	}
	if client != nil {
		q.script = redis.NewScript(consumeScript)
		q.release = redis.NewScript(releaseScript)
	}
	return q
}

func (q *DailyQuota) Consume(ctx context.Context, userID string) (Usage, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Usage{}, false, ErrInvalidUser
	}
	now := q.clock.Now()
	key, resetAt := q.key(userID, now)

	if q.client == nil {
		q.mu.Lock()
		q.evictBefore(now)
		current := q.counts[key]
		allowed := current < q.max
		if allowed {
			current++
			q.counts[key] = current
		}
		q.mu.Unlock()
		return q.usage(userID, current, resetAt), allowed, nil
	}

	res, err := q.script.Run(ctx, q.client, []string{key}, q.max, resetAt.Unix()).Int64Slice()
	if err != nil {
		return Usage{}, false, fmt.Errorf("consume quota: %w", err)
	}
	if len(res) != 2 {
		return Usage{}, false, fmt.Errorf("consume quota: unexpected reply %v", res)
	}
	return q.usage(userID, res[1], resetAt), res[0] == 1, nil
}

func (q *DailyQuota) Release(ctx context.Context, userID string) (Usage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Usage{}, ErrInvalidUser
	}
	now := q.clock.Now()
	key, resetAt := q.key(userID, now)

	if q.client == nil {
		q.mu.Lock()
		q.evictBefore(now)
		current := q.counts[key]
		if current > 0 {
			current--
			q.counts[key] = current
		}
		q.mu.Unlock()
		return q.usage(userID, current, resetAt), nil
	}

	current, err := q.release.Run(ctx, q.client, []string{key}).Int64()
	if err != nil {
		return Usage{}, fmt.Errorf("release quota: %w", err)
	}
	return q.usage(userID, current, resetAt), nil
}

func (q *DailyQuota) Get(ctx context.Context, userID string) (Usage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Usage{}, ErrInvalidUser
	}
	now := q.clock.Now()
	key, resetAt := q.key(userID, now)

	if q.client == nil {
		q.mu.Lock()
		q.evictBefore(now)
		current := q.counts[key]
		q.mu.Unlock()
		return q.usage(userID, current, resetAt), nil
	}

	current, err := q.client.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("get quota: %w", err)
	}
	return q.usage(userID, current, resetAt), nil
}

func (q *DailyQuota) Reset(ctx context.Context, userID string) (Usage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Usage{}, ErrInvalidUser
	}
	key, resetAt := q.key(userID, q.clock.Now())

	if q.client == nil {
		q.mu.Lock()
		delete(q.counts, key)
		q.mu.Unlock()
	} else if err := q.client.Del(ctx, key).Err(); err != nil {
		return Usage{}, fmt.Errorf("reset quota: %w", err)
	}

	q.log.Info("daily quota reset", zap.String("user_id", userID))
	return q.usage(userID, 0, resetAt), nil
}

func (q *DailyQuota) key(userID string, now time.Time) (string, time.Time) {
	local := now.In(q.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, q.loc)
	return fmt.Sprintf(keyDailyQuota, userID, day.Format("2006-01-02")), day.AddDate(0, 0, 1).UTC()
}

func (q *DailyQuota) usage(userID string, current int64, resetAt time.Time) Usage {
	remaining := q.max - current
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		UserID:    userID,
		Current:   current,
		Max:       q.max,
		ResetAt:   resetAt,
		Exceeded:  current >= q.max,
		Remaining: remaining,
	}
}

// evictBefore drops in-memory counters from previous days. Callers hold mu.
func (q *DailyQuota) evictBefore(now time.Time) {
	suffix := ":" + now.In(q.loc).Format("2006-01-02")
	for key := range q.counts {
		if !strings.HasSuffix(key, suffix) {
			delete(q.counts, key)
		}
	}
}
