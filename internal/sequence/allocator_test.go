package sequence

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store/memory"
)

type failingCounter struct {
	calls atomic.Int64
	err   error
}

func (f *failingCounter) NextSequence(_ context.Context, _ domain.SequenceKey) (int64, error) {
	f.calls.Add(1)
	return 0, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func allocateConcurrently(t *testing.T, alloc *Allocator, key domain.SequenceKey, n int) []int64 {
	t.Helper()
	var mu sync.Mutex
	got := make([]int64, 0, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := alloc.Allocate(ctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	slices.Sort(got)
	return got
}

func TestConcurrentAllocateReturnsExactRange(t *testing.T) {
	alloc := NewAllocator(memory.New())
	key := domain.SequenceKey{Kind: "CYL", Day: "20240801"}

	const n = 200
	got := allocateConcurrently(t, alloc, key, n)
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, int64(i+1), v)
	}

	next, err := alloc.Allocate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), next)
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(memory.New())

	a, err := alloc.Allocate(ctx, domain.SequenceKey{Kind: "CYL", Day: "20240801"})
	require.NoError(t, err)
	b, err := alloc.Allocate(ctx, domain.SequenceKey{Kind: "CYL", Day: "20240802"})
	require.NoError(t, err)
	c, err := alloc.Allocate(ctx, domain.SequenceKey{Kind: "BILL", Day: "20240801"})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 1, 1}, []int64{a, b, c})
}

func TestNextFormatsDocumentNumbers(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)
	alloc := NewAllocator(memory.New(), WithClock(fixedClock(day)))

	first, err := alloc.Next(ctx, domain.CategoryCylinderPurchase)
	require.NoError(t, err)
	second, err := alloc.Next(ctx, domain.CategoryCylinderPurchase)
	require.NoError(t, err)
	bill, err := alloc.Next(ctx, domain.CategoryBill)
	require.NoError(t, err)

	assert.Equal(t, "CYL-20240801-000001", first)
	assert.Equal(t, "CYL-20240801-000002", second)
	assert.Equal(t, "BILL-20240801-000001", bill)
}

func TestUnknownCategoriesShareFallbackCounter(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)
	alloc := NewAllocator(memory.New(), WithClock(fixedClock(day)))

	a, err := alloc.Next(ctx, "cement_purchase")
	require.NoError(t, err)
	b, err := alloc.Next(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "VEN-20240801-000001", a)
	assert.Equal(t, "VEN-20240801-000002", b)
}

func TestBusinessDayFollowsLocation(t *testing.T) {
	loc := time.FixedZone("PKT", 5*60*60)
	late := time.Date(2024, 8, 1, 20, 0, 0, 0, time.UTC)
	alloc := NewAllocator(memory.New(), WithClock(fixedClock(late)), WithLocation(loc))

	doc, err := alloc.Next(context.Background(), domain.CategoryBill)
	require.NoError(t, err)
	assert.Equal(t, "BILL-20240802-000001", doc)
}

func TestPrefixFor(t *testing.T) {
	cases := map[string]string{
		"cylinder_purchase":    "CYL",
		"gas_purchase":         "GAS",
		"vaporizer_purchase":   "VAP",
		"accessories_purchase": "ACC",
		"VALVES_PURCHASE":      "VAL",
		"bill":                 "BILL",
		"mystery":              "VEN",
	}
	for kind, want := range cases {
		assert.Equal(t, want, PrefixFor(kind), kind)
	}
}

func TestParseRoundTripsFormat(t *testing.T) {
	prefix, day, seq, err := Parse(Format("GAS", "20240801", 42))
	require.NoError(t, err)
	assert.Equal(t, "GAS", prefix)
	assert.Equal(t, "20240801", day)
	assert.Equal(t, int64(42), seq)

	for _, bad := range []string{"", "GAS-2024-000001", "GAS-20240801-abc", "GAS-20240801-000000", "GAS20240801000001"} {
		_, _, _, err := Parse(bad)
		assert.ErrorIs(t, err, store.ErrInvalidTransaction, bad)
	}
}

func TestUnreachableCounterFailsWithoutNumber(t *testing.T) {
	counter := &failingCounter{err: errors.New("dial tcp: connection refused")}
	var failures atomic.Int64
	alloc := NewAllocator(counter,
		WithBreaker(BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute}),
		WithFailureHook(func() { failures.Add(1) }),
	)

	for i := 0; i < 5; i++ {
		doc, err := alloc.Next(context.Background(), domain.CategoryBill)
		require.ErrorIs(t, err, store.ErrAllocationUnavailable)
		assert.Empty(t, doc)
	}

	assert.Equal(t, int64(3), counter.calls.Load(), "open breaker must stop calling the counter store")
	assert.Equal(t, int64(5), failures.Load())
}

func TestCurrentDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 8, 1, 9, 30, 0, 0, time.UTC)
	alloc := NewAllocator(memory.New(), WithClock(fixedClock(day)))

	_, err := alloc.Next(ctx, domain.CategoryGasPurchase)
	require.NoError(t, err)

	prefix, seq, err := alloc.Current(ctx, domain.CategoryGasPurchase, "")
	require.NoError(t, err)
	assert.Equal(t, "GAS", prefix)
	assert.Equal(t, int64(1), seq)

	doc, err := alloc.Next(ctx, domain.CategoryGasPurchase)
	require.NoError(t, err)
	assert.Equal(t, "GAS-20240801-000002", doc)

	_, _, err = alloc.Current(ctx, domain.CategoryGasPurchase, "2024-08-01")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}
