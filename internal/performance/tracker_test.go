package performance

import (
	"errors"
	"sync"
	"testing"
	"time"

	"maker-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockBaselineRepository is an in-memory BaselineRepository that counts
// writes, so baseline idempotence can be asserted.
type mockBaselineRepository struct {
	sync.Mutex
	stored    *models.Baseline
	saveCount int
	loadErr   error
	saveErr   error
}

func (m *mockBaselineRepository) SaveBaseline(baseline *models.Baseline) error {
	m.Lock()
	defer m.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *baseline
	m.stored = &copied
	m.saveCount++
	return nil
}

func (m *mockBaselineRepository) LoadBaseline() (*models.Baseline, error) {
	m.Lock()
	defer m.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.stored, nil
}

func (m *mockBaselineRepository) Close() error { return nil }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// TestEnsureBaselineCreates verifies that a fresh repository gets exactly one
// persisted baseline capturing the first observed equity.
func TestEnsureBaselineCreates(t *testing.T) {
	repo := &mockBaselineRepository{}
	tracker := NewTracker(repo, zap.NewNop().Sugar())
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = fixedClock(start)

	baseline, err := tracker.EnsureBaseline("PEPE/USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, "PEPE/USDT", baseline.Symbol)
	assert.Equal(t, 1000.0, baseline.StartingEquity)
	assert.Equal(t, start, baseline.StartTime)
	assert.Equal(t, 1, repo.saveCount)
}

// TestEnsureBaselineIdempotent verifies that repeated calls for the same
// symbol return the original record and never write again, even as equity
// moves.
func TestEnsureBaselineIdempotent(t *testing.T) {
	repo := &mockBaselineRepository{}
	tracker := NewTracker(repo, zap.NewNop().Sugar())
	tracker.now = fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	first, err := tracker.EnsureBaseline("PEPE/USDT", 1000)
	require.NoError(t, err)

	second, err := tracker.EnsureBaseline("PEPE/USDT", 1234)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1000.0, second.StartingEquity, "equity drift must not rewrite the baseline")
	assert.Equal(t, 1, repo.saveCount)
}

// TestEnsureBaselineSymbolChange verifies that a stored baseline for a
// different pair is discarded and replaced.
func TestEnsureBaselineSymbolChange(t *testing.T) {
	repo := &mockBaselineRepository{
		stored: &models.Baseline{
			Symbol:         "DOGE/USDT",
			StartTime:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			StartingEquity: 500,
		},
	}
	tracker := NewTracker(repo, zap.NewNop().Sugar())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = fixedClock(now)

	baseline, err := tracker.EnsureBaseline("PEPE/USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, "PEPE/USDT", baseline.Symbol)
	assert.Equal(t, 1000.0, baseline.StartingEquity)
	assert.Equal(t, now, baseline.StartTime)
	assert.Equal(t, 1, repo.saveCount)
}

// TestEnsureBaselineResumes verifies that a stored baseline for the same pair
// is reused as-is with no write.
func TestEnsureBaselineResumes(t *testing.T) {
	stored := &models.Baseline{
		Symbol:         "PEPE/USDT",
		StartTime:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		StartingEquity: 500,
	}
	repo := &mockBaselineRepository{stored: stored}
	tracker := NewTracker(repo, zap.NewNop().Sugar())

	baseline, err := tracker.EnsureBaseline("PEPE/USDT", 999)
	require.NoError(t, err)
	assert.Equal(t, *stored, baseline)
	assert.Zero(t, repo.saveCount)
}

// TestEnsureBaselineLoadError propagates repository failures.
func TestEnsureBaselineLoadError(t *testing.T) {
	repo := &mockBaselineRepository{loadErr: errors.New("disk gone")}
	tracker := NewTracker(repo, zap.NewNop().Sugar())

	_, err := tracker.EnsureBaseline("PEPE/USDT", 1000)
	assert.Error(t, err)
}

// TestComputeProfit: 1000 -> 1050 over 12 hours is +50 absolute, +5%, and
// +10% per day.
func TestComputeProfit(t *testing.T) {
	tracker := NewTracker(&mockBaselineRepository{}, zap.NewNop().Sugar())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = fixedClock(start.Add(12 * time.Hour))

	baseline := models.Baseline{Symbol: "PEPE/USDT", StartTime: start, StartingEquity: 1000}
	profit := tracker.ComputeProfit(baseline, 1050)

	assert.InDelta(t, 50, profit.Absolute, 1e-9)
	assert.InDelta(t, 5, profit.Percent, 1e-9)
	assert.InDelta(t, 10, profit.PercentPerDay, 1e-9)
}

// TestComputeProfitGuards: zero starting equity and zero elapsed time both
// yield zero percentages instead of non-finite values.
func TestComputeProfitGuards(t *testing.T) {
	tracker := NewTracker(&mockBaselineRepository{}, zap.NewNop().Sugar())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = fixedClock(start)

	zeroEquity := models.Baseline{StartTime: start, StartingEquity: 0}
	profit := tracker.ComputeProfit(zeroEquity, 100)
	assert.InDelta(t, 100, profit.Absolute, 1e-9)
	assert.Zero(t, profit.Percent)
	assert.Zero(t, profit.PercentPerDay)

	// No elapsed time: per-day stays zero even though percent is defined.
	fresh := models.Baseline{StartTime: start, StartingEquity: 1000}
	profit = tracker.ComputeProfit(fresh, 1050)
	assert.InDelta(t, 5, profit.Percent, 1e-9)
	assert.Zero(t, profit.PercentPerDay)
}
