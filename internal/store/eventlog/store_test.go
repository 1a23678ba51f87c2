package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vela/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := events.New(events.TypeOrderFilled, "BTCUSDT", map[string]any{"quantity": 0.5})
	second := events.New(events.TypeStopRatcheted, "ETHUSDT", map[string]any{"level": 2})
	second.At = first.At.Add(time.Second)
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, events.TypeStopRatcheted, all[0].Type)
	assert.Equal(t, events.TypeOrderFilled, all[1].Type)
	assert.EqualValues(t, 2, all[0].Details["level"])
}

func TestListFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, events.New(events.TypeOrderFilled, "BTCUSDT", nil)))
	require.NoError(t, store.Append(ctx, events.New(events.TypePositionClosed, "BTCUSDT", nil)))
	require.NoError(t, store.Append(ctx, events.New(events.TypeOrderFilled, "ETHUSDT", nil)))

	bySymbol, err := store.List(ctx, Query{Symbol: "btcusdt"})
	require.NoError(t, err)
	assert.Len(t, bySymbol, 2)

	byType, err := store.List(ctx, Query{Type: string(events.TypeOrderFilled)})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	both, err := store.List(ctx, Query{Symbol: "ETHUSDT", Type: string(events.TypeOrderFilled)})
	require.NoError(t, err)
	assert.Len(t, both, 1)

	limited, err := store.List(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
