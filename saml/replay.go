package saml

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultGrace     = 5 * time.Second
	defaultReplayTTL = 10 * time.Minute
	defaultKeyPrefix = "dmarcauth:saml:"
	localSweepPeriod = time.Minute
)

// ErrReplay is returned by callers that reject a replayed assertion.
var ErrReplay = errors.New("saml: assertion replay")

// GuardConfig tunes a ReplayGuard.
type GuardConfig struct {
	Grace      time.Duration
	DefaultTTL time.Duration
	KeyPrefix  string
}

// ReplayGuard detects reuse of assertion ids across instances.
type ReplayGuard struct {
	client redis.UniversalClient
	cfg    GuardConfig
	local  *localCache
	logger *slog.Logger
	now    func() time.Time
}

// NewReplayGuard creates a guard. A nil client runs on the local cache
// alone.
func NewReplayGuard(client redis.UniversalClient, cfg GuardConfig, logger *slog.Logger, now func() time.Time) *ReplayGuard {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultReplayTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{
		client: client,
		cfg:    cfg,
		local:  newLocalCache(now),
		logger: logger,
		now:    now,
	}
}

// CheckReplay reports whether id was first seen longer than the grace
// period ago.
func (g *ReplayGuard) CheckReplay(ctx context.Context, id string) bool {
	now := g.now()
	if g.client != nil {
		raw, err := g.client.Get(ctx, g.cfg.KeyPrefix+id).Result()
		switch {
		case err == nil:
			firstSeen, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				g.logger.WarnContext(ctx, "saml replay record unreadable, treating as replay", slog.String("assertion_id", id))
				return true
			}
			return g.isReplay(time.Unix(0, firstSeen), now)
		case errors.Is(err, redis.Nil):
			return false
		default:
			g.logger.WarnContext(ctx, "saml replay cache unavailable, using local fallback",
				slog.String("assertion_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	firstSeen, ok := g.local.get(id)
	if !ok {
		return false
	}
	return g.isReplay(firstSeen, now)
}

// MarkProcessed records id as seen now. The first marker wins; the TTL is
// the larger of the time left until expiresAt and the default TTL.
func (g *ReplayGuard) MarkProcessed(ctx context.Context, id string, expiresAt time.Time) {
	now := g.now()
	ttl := expiresAt.Sub(now)
	if ttl < g.cfg.DefaultTTL {
		ttl = g.cfg.DefaultTTL
	}

	g.local.setIfAbsent(id, now, ttl)
	if g.client == nil {
		return
	}
	err := g.client.SetNX(ctx, g.cfg.KeyPrefix+id, strconv.FormatInt(now.UnixNano(), 10), ttl).Err()
	if err != nil {
		g.logger.WarnContext(ctx, "saml replay cache write failed, recorded locally only",
			slog.String("assertion_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (g *ReplayGuard) isReplay(firstSeen, now time.Time) bool {
	return now.Sub(firstSeen) >= g.cfg.Grace
}

// localCache is the per-process fallback. It is not shared across
// instances.
type localCache struct {
	mu        sync.Mutex
	entries   map[string]localEntry
	now       func() time.Time
	lastSweep time.Time
}

type localEntry struct {
	firstSeen time.Time
	expiresAt time.Time
}

func newLocalCache(now func() time.Time) *localCache {
	return &localCache{entries: make(map[string]localEntry), now: now, lastSweep: now()}
}

func (c *localCache) get(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	e, ok := c.entries[id]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, id)
		return time.Time{}, false
	}
	return e.firstSeen, true
}

func (c *localCache) setIfAbsent(id string, firstSeen time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	if e, ok := c.entries[id]; ok && now.Before(e.expiresAt) {
		return
	}
	c.entries[id] = localEntry{firstSeen: firstSeen, expiresAt: now.Add(ttl)}
}

func (c *localCache) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < localSweepPeriod {
		return
	}
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.lastSweep = now
}

func (c *localCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
