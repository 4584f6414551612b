// Package ratelimit enforces a sliding-window limit over both request
// count and spend. It gates the LLM-backed paths (rerank tier, query
// expansion) so a burst of expensive calls cannot exhaust the budget.
package ratelimit

import (
	"math"
	"sync"
	"time"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// Config holds limiter settings.
type Config struct {
	// MaxRequests is the request cap inside one window.
	MaxRequests int

	// BudgetCents is the spend cap inside one window.
	BudgetCents int64

	// Window is the sliding window length.
	Window time.Duration
}

// DefaultConfig returns the default limiter settings.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 100,
		BudgetCents: 100,
		Window:      time.Hour,
	}
}

type record struct {
	at        time.Time
	costCents int64
}

// Limiter is a sliding-window limiter over request count and cost.
// Both constraints must pass for a call to be admitted; an admitted
// call is recorded atomically with the decision.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	records []record
	spent   int64

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.BudgetCents <= 0 {
		cfg.BudgetCents = DefaultConfig().BudgetCents
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}

	return &Limiter{
		cfg: cfg,
		now: time.Now,
	}
}

// CheckAndRecord admits a call costing costCents, recording it on
// success. On rejection it returns a RATE_LIMITED or BUDGET_EXCEEDED
// error carrying a retry-after hint in seconds. A cost larger than the
// whole budget reports a zero hint: waiting cannot help.
func (l *Limiter) CheckAndRecord(costCents int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.records) >= l.cfg.MaxRequests {
		retry := l.records[0].at.Add(l.cfg.Window).Sub(now)
		return apperrors.RateLimitedError(retrySeconds(retry))
	}

	if l.spent+costCents > l.cfg.BudgetCents {
		if costCents > l.cfg.BudgetCents {
			return apperrors.BudgetExceededError(0)
		}
		retry := l.budgetRetry(now, costCents)
		return apperrors.BudgetExceededError(retrySeconds(retry))
	}

	l.records = append(l.records, record{at: now, costCents: costCents})
	l.spent += costCents
	return nil
}

// Usage returns the requests and cents consumed in the current window.
func (l *Limiter) Usage() (requests int, spentCents int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return len(l.records), l.spent
}

// prune drops records that have slid out of the window.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)

	i := 0
	for i < len(l.records) && !l.records[i].at.After(cutoff) {
		l.spent -= l.records[i].costCents
		i++
	}
	if i > 0 {
		l.records = l.records[i:]
	}
}

// budgetRetry returns how long until enough spend expires for a call of
// costCents to fit.
func (l *Limiter) budgetRetry(now time.Time, costCents int64) time.Duration {
	remaining := l.spent
	for _, r := range l.records {
		remaining -= r.costCents
		if remaining+costCents <= l.cfg.BudgetCents {
			return r.at.Add(l.cfg.Window).Sub(now)
		}
	}
	return l.cfg.Window
}

// retrySeconds rounds a wait up to whole seconds, never below one.
func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
