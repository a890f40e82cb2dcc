// Package performance owns the persisted profit baseline and the per-tick
// profit arithmetic derived from it.
package performance

import (
	"time"

	"maker-bot-go/internal/models"
	"maker-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// Profit is the tick's profitability relative to the baseline.
type Profit struct {
	Absolute      float64
	Percent       float64
	PercentPerDay float64
}

// Tracker manages the baseline lifecycle. The baseline is written exactly
// once per (re)creation, never per tick, to avoid write amplification on
// the backing store.
type Tracker struct {
	repo     persistence.BaselineRepository
	logger   *zap.SugaredLogger
	now      func() time.Time
	baseline *models.Baseline
	loaded   bool
}

// NewTracker creates a Tracker over the given repository.
func NewTracker(repo persistence.BaselineRepository, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{repo: repo, logger: logger, now: time.Now}
}

// EnsureBaseline returns the baseline for the configured pair, creating and
// persisting a fresh one when none exists or the stored one belongs to a
// different pair (the old record is then discarded wholesale). Idempotent
// for a stable symbol: repeated calls return the identical record with no
// further writes.
func (t *Tracker) EnsureBaseline(symbol string, equity float64) (models.Baseline, error) {
	if !t.loaded {
		stored, err := t.repo.LoadBaseline()
		if err != nil {
			return models.Baseline{}, err
		}
		t.baseline = stored
		t.loaded = true
	}

	if t.baseline != nil && t.baseline.Symbol == symbol {
		return *t.baseline, nil
	}

	if t.baseline != nil {
		t.logger.Infof("交易对从 %s 切换到 %s，重置基准", t.baseline.Symbol, symbol)
	}
	fresh := &models.Baseline{
		Symbol:         symbol,
		StartTime:      t.now(),
		StartingEquity: equity,
	}
	if err := t.repo.SaveBaseline(fresh); err != nil {
		return models.Baseline{}, err
	}
	t.baseline = fresh
	t.logger.Infof("建立新基准: %s 起始净值 %.8f", symbol, equity)
	return *fresh, nil
}

// ComputeProfit derives the profit metrics for the current equity. A
// near-zero uptime yields a zero per-day figure instead of a non-finite
// value; the column is informational only.
func (t *Tracker) ComputeProfit(baseline models.Baseline, equity float64) Profit {
	p := Profit{Absolute: equity - baseline.StartingEquity}
	if baseline.StartingEquity != 0 {
		p.Percent = p.Absolute / baseline.StartingEquity * 100
	}
	if days := t.Uptime(baseline).Hours() / 24; days > 0 {
		p.PercentPerDay = p.Percent / days
	}
	return p
}

// Uptime is the elapsed time since the baseline was established.
func (t *Tracker) Uptime(baseline models.Baseline) time.Duration {
	return t.now().Sub(baseline.StartTime)
}
