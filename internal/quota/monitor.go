// Package quota tracks daily-request and monthly-token counters against
// fixed free-tier limits. Counters are approximate: the backing store is
// best-effort and concurrent requests may race, which is acceptable for a
// budget gate that favours availability over exactness.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/capmapt/chatsvtr-sub005/internal/kvstore"
	"github.com/capmapt/chatsvtr-sub005/internal/models"
)

const (
	statsKey    = "usage_stats"
	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"

	// ReasonDailyLimit is returned when the daily request counter is exhausted.
	ReasonDailyLimit = "daily limit reached"
	// ReasonMonthlyBudget is returned when the request would overrun the
	// monthly token budget.
	ReasonMonthlyBudget = "monthly budget near limit"
	// ReasonRequestTooLarge is returned when a single request's estimated
	// tokens exceed the per-request cap.
	ReasonRequestTooLarge = "request exceeds per-request token limit"
)

// Limits holds the configured free-tier budgets.
type Limits struct {
	DailyRequests       int
	MonthlyTokens       int
	MaxTokensPerRequest int
}

// Monitor gate-checks and records usage against Limits, persisting counters
// in a key-value store. Store failures are swallowed and logged: the monitor
// fails open so that quota tracking outages never block chat traffic.
type Monitor struct {
	store  kvstore.Store
	limits Limits
	now    func() time.Time
}

// NewMonitor constructs a usage monitor backed by the given store.
func NewMonitor(store kvstore.Store, limits Limits) *Monitor {
	return &Monitor{
		store:  store,
		limits: limits,
		now:    time.Now,
	}
}

// CheckQuota loads the current counters, applies period-rollover correction
// and decides whether a request estimated at estimatedTokens may proceed.
// Beyond persisting the rollover correction it has no side effect on the
// stored counters.
func (m *Monitor) CheckQuota(ctx context.Context, estimatedTokens int) models.QuotaDecision {
	stats := m.load(ctx)
	if m.rollover(&stats) {
		m.persist(ctx, stats)
	}

	if stats.DailyRequests >= m.limits.DailyRequests {
		return models.QuotaDecision{Allowed: false, Reason: ReasonDailyLimit}
	}

	// Input tokens are real consumption, so the estimate enters the monthly
	// comparison uncapped; the per-request limit is its own denial instead.
	if estimatedTokens > m.limits.MaxTokensPerRequest {
		return models.QuotaDecision{Allowed: false, Reason: ReasonRequestTooLarge}
	}
	if stats.MonthlyTokens+estimatedTokens > m.limits.MonthlyTokens {
		return models.QuotaDecision{Allowed: false, Reason: ReasonMonthlyBudget}
	}

	return models.QuotaDecision{Allowed: true}
}

// RecordUsage applies rollover correction, then counts one request and
// tokensUsed tokens against the current period.
func (m *Monitor) RecordUsage(ctx context.Context, tokensUsed int) {
	stats := m.load(ctx)
	m.rollover(&stats)

	stats.DailyRequests++
	stats.MonthlyTokens += tokensUsed

	m.persist(ctx, stats)
}

// PeriodUsage describes one budget window for observability endpoints.
type PeriodUsage struct {
	Used        int     `json:"used"`
	Limit       int     `json:"limit"`
	Remaining   int     `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

// Info is a read-only projection of the current counters against the limits.
type Info struct {
	Daily   PeriodUsage `json:"daily"`
	Monthly PeriodUsage `json:"monthly"`
}

// QuotaInfo reports current usage versus limits for status endpoints.
func (m *Monitor) QuotaInfo(ctx context.Context) Info {
	stats := m.load(ctx)
	m.rollover(&stats)

	return Info{
		Daily:   periodUsage(stats.DailyRequests, m.limits.DailyRequests),
		Monthly: periodUsage(stats.MonthlyTokens, m.limits.MonthlyTokens),
	}
}

func periodUsage(used, limit int) PeriodUsage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	percent := 0.0
	if limit > 0 {
		percent = float64(used) / float64(limit) * 100
	}
	return PeriodUsage{
		Used:        used,
		Limit:       limit,
		Remaining:   remaining,
		PercentUsed: percent,
	}
}

// load reads the stored counters, falling back to zeroed stats with current
// period markers when the key is absent or the store misbehaves.
func (m *Monitor) load(ctx context.Context) models.UsageStats {
	fresh := models.UsageStats{
		LastResetDate:    m.now().Format(dayFormat),
		LastMonthlyReset: m.now().Format(monthFormat),
	}

	raw, ok, err := m.store.Get(ctx, statsKey)
	if err != nil {
		slog.Warn("usage store read failed, assuming fresh counters", "err", err)
		return fresh
	}
	if !ok {
		return fresh
	}

	var stats models.UsageStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		slog.Warn("usage stats corrupted, assuming fresh counters", "err", err)
		return fresh
	}
	return stats
}

// rollover zeroes counters whose period markers no longer match the clock.
// It reports whether anything changed.
func (m *Monitor) rollover(stats *models.UsageStats) bool {
	changed := false

	if today := m.now().Format(dayFormat); stats.LastResetDate != today {
		stats.DailyRequests = 0
		stats.LastResetDate = today
		changed = true
	}
	if month := m.now().Format(monthFormat); stats.LastMonthlyReset != month {
		stats.MonthlyTokens = 0
		stats.LastMonthlyReset = month
		changed = true
	}
	return changed
}

func (m *Monitor) persist(ctx context.Context, stats models.UsageStats) {
	raw, err := json.Marshal(stats)
	if err != nil {
		slog.Warn("marshal usage stats failed", "err", err)
		return
	}
	if err := m.store.Put(ctx, statsKey, string(raw)); err != nil {
		slog.Warn("usage store write failed", "err", err)
	}
}

// String makes Limits readable in startup logs.
func (l Limits) String() string {
	return fmt.Sprintf("daily_requests=%d monthly_tokens=%d max_tokens_per_request=%d",
		l.DailyRequests, l.MonthlyTokens, l.MaxTokensPerRequest)
}
