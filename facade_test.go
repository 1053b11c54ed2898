package kvlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlitecache/kvlite/internal/sqlstore"
)

func newTestFacade(t *testing.T) (*CacheFacade, *VirtualClock) {
	t.Helper()

	clock := NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.ChancesOfAutoCleanup = 0

	facade, err := NewCacheFacade(context.Background(), sqlstore.New(":memory:"), clock, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = facade.Close() })

	return facade, clock
}

func TestCacheFacade_AddTimedThenGet_RoundTrips(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "k", "hello", clock.NowUnix()+100))

	v, ok, err := Get[string](ctx, facade, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestCacheFacade_Get_MissReturnsFalseWithoutError(t *testing.T) {
	t.Parallel()

	facade, _ := newTestFacade(t)

	v, ok, err := Get[string](context.Background(), facade, "p", "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestCacheFacade_AddSliding_InsertsAtNowPlusInterval(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddSliding(ctx, "p", "k", 7, 30))

	entry, ok, err := facade.GetItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.NowUnix()+30, entry.UTCExpiry)
}

func TestCacheFacade_AddSliding_RejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	facade, _ := newTestFacade(t)

	err := facade.AddSliding(context.Background(), "p", "k", "v", 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCacheFacade_AddStatic_UsesConfiguredStaticInterval(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddStatic(ctx, "p", "k", "v"))

	entry, ok, err := facade.GetItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.NowUnix()+facade.cfg.StaticIntervalSeconds(), entry.UTCExpiry)
}

func TestCacheFacade_Get_EmptyPartitionFallsBackToDefault(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "", "k", "v", clock.NowUnix()+100))

	v, ok, err := Get[string](ctx, facade, "", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	v, ok, err = Get[string](ctx, facade, facade.cfg.DefaultPartition, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCacheFacade_Get_RejectsEmptyKey(t *testing.T) {
	t.Parallel()

	facade, _ := newTestFacade(t)

	_, _, err := Get[string](context.Background(), facade, "p", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCacheFacade_Peek_DoesNotExtendSlidingExpiry(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddSliding(ctx, "p", "k", "v", 10))

	clock.Advance(8 * time.Second)

	_, ok, err := Peek[string](ctx, facade, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(8 * time.Second)

	_, ok, err = Get[string](ctx, facade, "p", "k")
	require.NoError(t, err)
	assert.False(t, ok, "Peek must not have kept the sliding entry alive")
}

func TestCacheFacade_Get_TamperedStampIsRemovedAndReportedAbsent(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "k", "v", clock.NowUnix()+100))

	row, ok, err := facade.engine.conn.PeekEntry(ctx, facade.engine.db, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, row.Payload)

	tampered := append([]byte(nil), row.Payload...)
	tampered[0] ^= 0xff
	row.Payload = tampered

	require.NoError(t, facade.engine.conn.UpsertEntry(ctx, facade.engine.db, row), "simulate an out-of-band edit of the stored stamp")

	_, ok, err = Get[string](ctx, facade, "p", "k")
	require.NoError(t, err)
	assert.False(t, ok, "a tampered stamp must cause Get to report absent")

	contained, err := facade.Contains(ctx, "p", "k")
	require.NoError(t, err)
	assert.False(t, contained, "the tampered row must be removed, not merely reported absent")
}

func TestCacheFacade_PeekItem_ReturnsEntryMetadata(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "k", "v", clock.NowUnix()+100, "parent"))

	entry, ok, err := facade.PeekItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p", entry.Partition)
	assert.Equal(t, "k", entry.Key)
	assert.Contains(t, entry.ParentKeys, "parent")
}

func TestCacheFacade_GetItems_ReturnsOnlyHits(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "a", "va", clock.NowUnix()+100))
	require.NoError(t, facade.AddTimed(ctx, "p", "b", "vb", clock.NowUnix()+100))

	out, err := GetItems[string](ctx, facade, "p", []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "va", "b": "vb"}, out)
}

func TestCacheFacade_GetItems_RemovesRowOnDecodeFailure(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "bad", "not-an-int", clock.NowUnix()+100))
	require.NoError(t, facade.AddTimed(ctx, "p", "good", 7, clock.NowUnix()+100))

	out, err := GetItems[int](ctx, facade, "p", []string{"bad", "good"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"good": 7}, out)

	contained, err := facade.Contains(ctx, "p", "bad")
	require.NoError(t, err)
	assert.False(t, contained, "a row that fails to deserialize in a batch read must be removed too")
}

func TestCacheFacade_PeekItems_DoesNotExtendExpiry(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddSliding(ctx, "p", "a", "va", 10))

	clock.Advance(8 * time.Second)

	_, err := PeekItems[string](ctx, facade, "p", []string{"a"})
	require.NoError(t, err)

	clock.Advance(8 * time.Second)

	out, err := GetItems[string](ctx, facade, "p", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, out, "PeekItems must not have extended the sliding entry")
}

func TestCacheFacade_Contains_TrueForLiveFalseForMissing(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "k", "v", clock.NowUnix()+100))

	ok, err := facade.Contains(ctx, "p", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = facade.Contains(ctx, "p", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheFacade_Remove_IsNoOpWhenAbsent(t *testing.T) {
	t.Parallel()

	facade, _ := newTestFacade(t)

	err := facade.Remove(context.Background(), "p", "absent")
	require.NoError(t, err)
}

func TestCacheFacade_Remove_CascadesToChildren(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	future := clock.NowUnix() + 100

	require.NoError(t, facade.AddTimed(ctx, "p", "root", "v", future))
	require.NoError(t, facade.AddTimed(ctx, "p", "child", "v", future, "root"))

	require.NoError(t, facade.Remove(ctx, "p", "root"))

	n, err := facade.Count(ctx, "p", IgnoreExpiry)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCacheFacade_Clear_IgnoreExpiryRemovesEverything(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "a", "v", clock.NowUnix()+100))
	require.NoError(t, facade.AddTimed(ctx, "p", "b", "v", clock.NowUnix()+100))

	n, err := facade.Clear(ctx, "p", IgnoreExpiry)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCacheFacade_CountAndLongCount_Agree(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "a", "v", clock.NowUnix()+100))

	n, err := facade.Count(ctx, "p", IgnoreExpiry)
	require.NoError(t, err)

	ln, err := facade.LongCount(ctx, "p", IgnoreExpiry)
	require.NoError(t, err)

	assert.Equal(t, n, ln)
	assert.Equal(t, int64(1), n)
}

func TestCacheFacade_GetCacheSizeBytes_GrowsWithPayload(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	before, err := facade.GetCacheSizeBytes(ctx, "p")
	require.NoError(t, err)

	require.NoError(t, facade.AddTimed(ctx, "p", "k", "some reasonably sized value", clock.NowUnix()+100))

	after, err := facade.GetCacheSizeBytes(ctx, "p")
	require.NoError(t, err)

	assert.Greater(t, after, before)
}

func TestCacheFacade_LastError_SetOnDecodeMismatchThenClearedOnSuccess(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, facade.AddTimed(ctx, "p", "k", "not-an-int", clock.NowUnix()+100))

	_, ok, err := Get[int](ctx, facade, "p", "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, facade.LastError())

	contained, err := facade.Contains(ctx, "p", "k")
	require.NoError(t, err)
	assert.False(t, contained, "a row that fails to deserialize must be removed, not just reported absent")

	require.NoError(t, facade.AddTimed(ctx, "p", "k2", "v", clock.NowUnix()+100))
	_, ok, err = Get[string](ctx, facade, "p", "k2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, facade.LastError(), "a subsequent successful read clears LastError")
}

func TestGetOrAdd_InvokesFactoryOnlyOnMiss(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	calls := 0
	factory := func(context.Context) (string, ExpirySpec, error) {
		calls++

		return "produced", Timed(clock.NowUnix() + 100), nil
	}

	v, err := GetOrAdd[string](ctx, facade, "p", "k", factory)
	require.NoError(t, err)
	assert.Equal(t, "produced", v)
	assert.Equal(t, 1, calls)

	v, err = GetOrAdd[string](ctx, facade, "p", "k", factory)
	require.NoError(t, err)
	assert.Equal(t, "produced", v)
	assert.Equal(t, 1, calls, "a hit must not invoke the factory again")
}

func TestGetOrAdd_PropagatesFactoryError(t *testing.T) {
	t.Parallel()

	facade, _ := newTestFacade(t)

	boom := errors.New("factory failed")
	factory := func(context.Context) (string, ExpirySpec, error) {
		return "", ExpirySpec{}, boom
	}

	_, err := GetOrAdd[string](context.Background(), facade, "p", "k", factory)
	require.ErrorIs(t, err, boom)
}

func TestGetOrAdd_WithSlidingSpec_StoresSlidingEntry(t *testing.T) {
	t.Parallel()

	facade, clock := newTestFacade(t)
	ctx := context.Background()

	factory := func(context.Context) (string, ExpirySpec, error) {
		return "v", Sliding(20), nil
	}

	_, err := GetOrAdd[string](ctx, facade, "p", "k", factory)
	require.NoError(t, err)

	entry, ok, err := facade.GetItem(ctx, "p", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.NowUnix()+20, entry.UTCExpiry)
}
