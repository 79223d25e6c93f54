package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitebot/internal/strategy"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testPosition(symbol string) *strategy.Position {
	return &strategy.Position{
		Side:       strategy.SideCE,
		Symbol:     symbol,
		Basis:      strategy.BasisOption,
		EntryPrice: 310.5,
		StopLoss:   300,
		EntryTime:  time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOpenAndCloseTrade(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	id, err := j.OpenTrade(ctx, testPosition("SENSEX2590981500CE"), true, "ord-1")
	require.NoError(t, err)
	require.NotZero(t, id)

	open, err := j.LastOpenTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.ID)
	assert.Equal(t, "CE", open.Side)
	assert.True(t, open.Live)
	assert.Equal(t, "ord-1", open.OrderID)

	exitAt := time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, j.CloseTrade(ctx, id, exitAt, 325.0, 14.5, "ema band breached"))

	open, err = j.LastOpenTrade(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	trades, err := j.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].ExitPrice)
	assert.Equal(t, 325.0, *trades[0].ExitPrice)
	assert.Equal(t, 14.5, *trades[0].Points)
	assert.Equal(t, "ema band breached", trades[0].ExitReason)
}

func TestLastOpenTradeReturnsNewest(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	p1 := testPosition("FIRST")
	p2 := testPosition("SECOND")
	p2.EntryTime = p1.EntryTime.Add(time.Hour)

	_, err := j.OpenTrade(ctx, p1, false, "")
	require.NoError(t, err)
	_, err = j.OpenTrade(ctx, p2, false, "")
	require.NoError(t, err)

	open, err := j.LastOpenTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "SECOND", open.Symbol)
}

func TestRecentTradesOrderAndLimit(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p := testPosition("SYM")
		p.EntryTime = p.EntryTime.Add(time.Duration(i) * time.Hour)
		_, err := j.OpenTrade(ctx, p, false, "")
		require.NoError(t, err)
	}

	trades, err := j.RecentTrades(ctx, 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.True(t, trades[0].EntryTime.After(trades[1].EntryTime))
}

func TestSessions(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	id, err := j.StartSession(ctx, "test", "unit")
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.NoError(t, j.EndSession(ctx, id))
}

func TestSchemaIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.db")

	j1, err := Open(path)
	require.NoError(t, err)
	_, err = j1.OpenTrade(context.Background(), testPosition("SYM"), false, "")
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()
	trades, err := j2.RecentTrades(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}
