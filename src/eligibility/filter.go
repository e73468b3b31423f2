// Package eligibility shrinks the candidate signal set for one account.
// Everything here is a pure function over its inputs: the orchestrator
// supplies the ledger snapshots, the filter never touches storage.
package eligibility

import (
	"sort"
	"time"

	"signalexecutor/src/externalmodel"
	"signalexecutor/src/model"
)

// Filter applies the per-account eligibility rules in order, short-circuiting
// on the first failure per signal:
//
//  1. score >= MinSignalScore
//  2. symbol not excluded
//  3. timeframe in the allow-list (empty list allows all)
//  4. signal no older than maxSignalAge
//  5. symbol not inside the cooldown window (lastBySymbol snapshot)
//  6. no existing execution record (executed snapshot)
//
// Rule 6 is only the cheap pre-check; the authoritative idempotency gate is
// the atomic reservation at submission time.
//
// Survivors are returned sorted by score descending, ties broken by oldest
// CreatedAt so older opportunities are not starved.
func Filter(
	signals []externalmodel.Signal,
	cfg *model.AccountConfig,
	maxSignalAge time.Duration,
	executed map[uint]struct{},
	lastBySymbol map[string]time.Time,
	now time.Time,
) []externalmodel.Signal {
	eligible := make([]externalmodel.Signal, 0, len(signals))

	for _, s := range signals {
		if s.Score < cfg.MinSignalScore {
			continue
		}
		if symbolExcluded(cfg.ExcludedSymbols, s.Symbol) {
			continue
		}
		if !timeframeAllowed(cfg.AllowedTimeframes, s.Timeframe) {
			continue
		}
		if now.Sub(s.CreatedAt) > maxSignalAge {
			continue
		}
		if inCooldown(lastBySymbol, s.Symbol, cfg.CooldownWindow(), now) {
			continue
		}
		if _, done := executed[s.ID]; done {
			continue
		}

		eligible = append(eligible, s)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Score != eligible[j].Score {
			return eligible[i].Score > eligible[j].Score
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	return eligible
}

func symbolExcluded(excluded []string, symbol string) bool {
	for _, e := range excluded {
		if e == symbol {
			return true
		}
	}
	return false
}

func timeframeAllowed(allowed []string, timeframe string) bool {
	if len(allowed) == 0 {
		return true // empty allow-list means all timeframes
	}
	for _, a := range allowed {
		if a == timeframe {
			return true
		}
	}
	return false
}

func inCooldown(lastBySymbol map[string]time.Time, symbol string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	last, ok := lastBySymbol[symbol]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}
