package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vela/internal/config"
	"vela/internal/gateway/exchange"
)

func stopOnlyConfig(stops []config.StopLevel) config.RiskConfig {
	return config.RiskConfig{
		StopLevels: stops,
		TakeLevels: []config.TakeLevel{
			{TargetPct: 50, CloseRatio: 0.3},
			{TargetPct: 60, CloseRatio: 0.3},
			{TargetPct: 70, CloseRatio: 1.0},
		},
	}
}

func longPosition(entry, qty float64) Position {
	return Position{
		ID:         "pos-1",
		Symbol:     "BTCUSDT",
		Side:       exchange.SideLong,
		EntryPrice: entry,
		InitialQty: qty,
	}
}

func TestTrackerStopExactBoundary(t *testing.T) {
	cfg := stopOnlyConfig([]config.StopLevel{
		{ArmAtPct: 0, DrawdownPct: 3.0},
		{ArmAtPct: 1.0, DrawdownPct: 1.5},
		{ArmAtPct: 2.5, DrawdownPct: 1.5},
	})
	tr := NewTracker(longPosition(100, 1), cfg)

	out := tr.Apply(110)
	assert.False(t, out.CloseAll)
	assert.Equal(t, []int{2, 3}, out.ArmedStops)

	// 1.4909...% from the extreme: inside the stop distance.
	out = tr.Apply(108.36)
	assert.False(t, out.CloseAll)

	// (110 - 108.35) / 110 = exactly 1.5%: the boundary triggers.
	out = tr.Apply(108.35)
	require.True(t, out.CloseAll)
	assert.Equal(t, "stop_level_3", out.Reason)
}

func TestTrackerFirstLevelArmedAtEntry(t *testing.T) {
	cfg := stopOnlyConfig([]config.StopLevel{
		{ArmAtPct: 0, DrawdownPct: 2.0},
		{ArmAtPct: 1.0, DrawdownPct: 1.2},
		{ArmAtPct: 2.5, DrawdownPct: 0.6},
	})
	tr := NewTracker(longPosition(100, 1), cfg)

	// No favorable excursion at all; level 1 still protects from entry.
	out := tr.Apply(98.1)
	assert.False(t, out.CloseAll)
	out = tr.Apply(98)
	require.True(t, out.CloseAll)
	assert.Equal(t, "stop_level_1", out.Reason)
}

func TestTrackerExtremeNeverRetreats(t *testing.T) {
	cfg := stopOnlyConfig([]config.StopLevel{
		{ArmAtPct: 0, DrawdownPct: 2.0},
		{ArmAtPct: 1.0, DrawdownPct: 1.2},
		{ArmAtPct: 2.5, DrawdownPct: 0.6},
	})
	tr := NewTracker(longPosition(100, 1), cfg)

	tr.Apply(105)
	tr.Apply(104.8)
	snap := tr.Snapshot()
	assert.Equal(t, 105.0, snap.Extreme)
	assert.Equal(t, 3, snap.ArmedStop)

	// A lower price never disarms a level.
	tr.Apply(104.9)
	assert.Equal(t, 3, tr.Snapshot().ArmedStop)
}

func TestTrackerShortSide(t *testing.T) {
	cfg := stopOnlyConfig([]config.StopLevel{
		{ArmAtPct: 0, DrawdownPct: 3.0},
		{ArmAtPct: 1.0, DrawdownPct: 1.5},
		{ArmAtPct: 2.5, DrawdownPct: 1.5},
	})
	pos := longPosition(100, 1)
	pos.Side = exchange.SideShort
	tr := NewTracker(pos, cfg)

	out := tr.Apply(90)
	assert.Equal(t, []int{2, 3}, out.ArmedStops)
	assert.False(t, out.CloseAll)

	// Extreme is 90; 1.5% adverse move is 91.35.
	out = tr.Apply(91.35)
	require.True(t, out.CloseAll)
	assert.Equal(t, "stop_level_3", out.Reason)
}

func TestTrackerTakeLadderPartialCloses(t *testing.T) {
	cfg := config.RiskConfig{
		StopLevels: []config.StopLevel{
			{ArmAtPct: 0, DrawdownPct: 2.0},
			{ArmAtPct: 1.0, DrawdownPct: 1.2},
			{ArmAtPct: 2.5, DrawdownPct: 0.6},
		},
		TakeLevels: []config.TakeLevel{
			{TargetPct: 1.5, CloseRatio: 0.3, ArmStopLevel: 2},
			{TargetPct: 3.0, CloseRatio: 0.3, ArmStopLevel: 3},
			{TargetPct: 5.0, CloseRatio: 1.0},
		},
	}
	tr := NewTracker(longPosition(100, 10), cfg)

	out := tr.Apply(101.5)
	require.Len(t, out.TakeHits, 1)
	assert.Equal(t, 1, out.TakeHits[0].Level)
	assert.InDelta(t, 3.0, out.TakeHits[0].CloseQty, 1e-9)
	assert.False(t, out.CloseAll)
	assert.InDelta(t, 7.0, tr.Remaining(), 1e-9)

	out = tr.Apply(103)
	require.Len(t, out.TakeHits, 1)
	assert.Equal(t, 2, out.TakeHits[0].Level)
	assert.Contains(t, out.ArmedStops, 3)
	assert.InDelta(t, 4.0, tr.Remaining(), 1e-9)

	out = tr.Apply(105)
	require.Len(t, out.TakeHits, 1)
	require.True(t, out.CloseAll)
	assert.Equal(t, "take_level_3", out.Reason)
	assert.InDelta(t, 4.0, out.TakeHits[0].CloseQty, 1e-9)
	assert.Zero(t, tr.Remaining())
}

func TestTrackerGapAcrossTakeLevels(t *testing.T) {
	cfg := config.RiskConfig{
		StopLevels: []config.StopLevel{
			{ArmAtPct: 0, DrawdownPct: 2.0},
			{ArmAtPct: 1.0, DrawdownPct: 1.2},
			{ArmAtPct: 2.5, DrawdownPct: 0.6},
		},
		TakeLevels: []config.TakeLevel{
			{TargetPct: 1.5, CloseRatio: 0.3, ArmStopLevel: 2},
			{TargetPct: 3.0, CloseRatio: 0.3, ArmStopLevel: 3},
			{TargetPct: 5.0, CloseRatio: 1.0},
		},
	}
	tr := NewTracker(longPosition(100, 10), cfg)

	// One tick gaps over the first two targets; both fire in order.
	out := tr.Apply(103.2)
	require.Len(t, out.TakeHits, 2)
	assert.Equal(t, 1, out.TakeHits[0].Level)
	assert.Equal(t, 2, out.TakeHits[1].Level)
	assert.False(t, out.CloseAll)
	assert.InDelta(t, 4.0, tr.Remaining(), 1e-9)
}

func TestTrackerTakeForceArmsStop(t *testing.T) {
	cfg := config.RiskConfig{
		StopLevels: []config.StopLevel{
			{ArmAtPct: 0, DrawdownPct: 2.0},
			{ArmAtPct: 4.0, DrawdownPct: 1.2},
			{ArmAtPct: 8.0, DrawdownPct: 0.6},
		},
		TakeLevels: []config.TakeLevel{
			{TargetPct: 1.5, CloseRatio: 0.3, ArmStopLevel: 2},
			{TargetPct: 3.0, CloseRatio: 0.3, ArmStopLevel: 3},
			{TargetPct: 5.0, CloseRatio: 1.0},
		},
	}
	tr := NewTracker(longPosition(100, 10), cfg)

	// Excursion 1.5% is far below the 4% unlock, but take level 1 forces
	// stop level 2 armed.
	out := tr.Apply(101.5)
	assert.Contains(t, out.ArmedStops, 2)
	assert.Equal(t, 2, tr.Snapshot().ArmedStop)
}

func TestTrackerStateNeverReverses(t *testing.T) {
	cfg := stopOnlyConfig([]config.StopLevel{
		{ArmAtPct: 0, DrawdownPct: 2.0},
		{ArmAtPct: 1.0, DrawdownPct: 1.2},
		{ArmAtPct: 2.5, DrawdownPct: 0.6},
	})
	tr := NewTracker(longPosition(100, 1), cfg)

	require.True(t, tr.MarkClosing())
	assert.Equal(t, StateClosing, tr.State())

	// CLOSING ignores further prices and cannot re-enter OPEN.
	out := tr.Apply(50)
	assert.False(t, out.CloseAll)
	assert.Empty(t, out.TakeHits)
	assert.False(t, tr.MarkClosing())

	require.True(t, tr.MarkClosed())
	assert.Equal(t, StateClosed, tr.State())
	assert.False(t, tr.MarkClosed())
}

func TestTrackerIgnoresNonPositivePrice(t *testing.T) {
	cfg := stopOnlyConfig([]config.StopLevel{
		{ArmAtPct: 0, DrawdownPct: 2.0},
		{ArmAtPct: 1.0, DrawdownPct: 1.2},
		{ArmAtPct: 2.5, DrawdownPct: 0.6},
	})
	tr := NewTracker(longPosition(100, 1), cfg)
	out := tr.Apply(0)
	assert.False(t, out.CloseAll)
	assert.Equal(t, 100.0, tr.Snapshot().Extreme)
}
