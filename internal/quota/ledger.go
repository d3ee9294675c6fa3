// Package quota implements the per-subject request ledger: a rolling 24h
// count against a tier-dependent daily limit, derived on read from the usage
// audit trail.
//
// The check is a read-only pre-check; the actual debit is the usage record
// written after the request completes. Two concurrent requests can therefore
// both pass at the boundary: a soft limit bounded by per-subject
// in-flight concurrency, not a hard reservation.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/porticohq/portico/internal/store"
	"github.com/porticohq/portico/internal/usage"
)

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrBurstExceeded   = errors.New("burst rate limit exceeded")
)

// Window is the rolling period counted against the daily limit.
const Window = 24 * time.Hour

// Decision is the outcome of a quota pre-check.
type Decision struct {
	Allowed   bool
	TenantID  string
	Tier      Tier
	Config    TierConfig
	Used      int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Ledger computes allow/deny decisions from the usage store.
type Ledger struct {
	db    *store.DB
	usage *usage.Store
	tiers TierTable

	// Read-mostly tier cache: refresh-on-miss, never invalidated mid-flight.
	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[string]cachedTier

	// Optional per-subject burst limiter, independent of the daily window.
	burstRate  rate.Limit
	burstSize  int
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

type cachedTier struct {
	tenantID string
	tier     Tier
	expires  time.Time
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithCacheTTL overrides the tier cache TTL (default 1h).
func WithCacheTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.cacheTTL = ttl }
}

// WithBurstLimit enables a per-subject token-bucket limiter on top of the
// daily quota, guarding against hot loops from a single client.
func WithBurstLimit(perSecond float64, burst int) Option {
	return func(l *Ledger) {
		l.burstRate = rate.Limit(perSecond)
		l.burstSize = burst
	}
}

// NewLedger creates a quota ledger over the portal store and usage trail.
func NewLedger(db *store.DB, usageStore *usage.Store, tiers TierTable, opts ...Option) *Ledger {
	l := &Ledger{
		db:       db,
		usage:    usageStore,
		tiers:    tiers,
		cacheTTL: time.Hour,
		cache:    make(map[string]cachedTier),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndReserve returns the allow/deny decision for one request. Despite
// the name (kept for parity with the portal API), nothing is reserved: the
// debit happens when the usage recorder writes after completion.
func (l *Ledger) CheckAndReserve(ctx context.Context, subjectID string) (*Decision, error) {
	if l.burstSize > 0 && !l.limiter(subjectID).Allow() {
		return nil, ErrBurstExceeded
	}
	return l.Status(ctx, subjectID)
}

// Status computes the current window state without touching the burst
// limiter. Used by the read-only usage endpoint.
func (l *Ledger) Status(ctx context.Context, subjectID string) (*Decision, error) {
	tenantID, tier, err := l.resolveTier(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	cfg := l.tiers.Config(tier)

	now := time.Now().UTC()
	used, err := l.usage.CountSince(ctx, subjectID, now.Add(-Window))
	if err != nil {
		return nil, err
	}

	remaining := cfg.RequestsPerDay - used
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Allowed:   used < cfg.RequestsPerDay,
		TenantID:  tenantID,
		Tier:      tier,
		Config:    cfg,
		Used:      used,
		Limit:     cfg.RequestsPerDay,
		Remaining: remaining,
		ResetAt:   nextUTCMidnight(now),
	}, nil
}

// resolveTier returns the subject's tenant and tier, via the TTL cache.
func (l *Ledger) resolveTier(ctx context.Context, subjectID string) (string, Tier, error) {
	now := time.Now()
	l.mu.Lock()
	if c, ok := l.cache[subjectID]; ok && now.Before(c.expires) {
		l.mu.Unlock()
		return c.tenantID, c.tier, nil
	}
	l.mu.Unlock()

	tenantID, tierStr, err := l.db.SubjectTenant(ctx, subjectID)
	if err != nil {
		return "", "", ErrSubjectNotFound
	}
	tier := Tier(tierStr)

	l.mu.Lock()
	l.cache[subjectID] = cachedTier{tenantID: tenantID, tier: tier, expires: now.Add(l.cacheTTL)}
	l.mu.Unlock()
	return tenantID, tier, nil
}

func (l *Ledger) limiter(subjectID string) *rate.Limiter {
	l.limitersMu.Lock()
	defer l.limitersMu.Unlock()
	lim, ok := l.limiters[subjectID]
	if !ok {
		lim = rate.NewLimiter(l.burstRate, l.burstSize)
		l.limiters[subjectID] = lim
	}
	return lim
}

// nextUTCMidnight returns the start of the next UTC day. Idempotent at the
// boundary: exactly at midnight the reset moves to the following day.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(24 * time.Hour)
}
