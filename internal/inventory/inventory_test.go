package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store/memory"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var (
	filled15 = domain.CylinderSKU("15kg", domain.CylinderFilled)
	empty15  = domain.CylinderSKU("15kg", domain.CylinderEmpty)
	withCust = domain.CylinderSKU("15kg", domain.CylinderWithCustomer)
)

func seed(t *testing.T, s *memory.Store, sku domain.SKUKey, qty int64) {
	t.Helper()
	_, err := NewLedger(s).Receive(context.Background(), domain.StockReceiveRequest{SKU: sku, Quantity: dec(qty), UnitCost: dec(1000)})
	require.NoError(t, err)
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, filled15, 10)
	ledger := NewLedger(s)

	_, err := ledger.Adjust(ctx, filled15, dec(-11))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var sf *ShortfallError
	require.True(t, errors.As(err, &sf))
	require.Len(t, sf.Lines, 1)
	assert.True(t, sf.Lines[0].Shortfall.Equal(dec(1)))

	qty, err := ledger.Get(ctx, filled15)
	require.NoError(t, err)
	assert.True(t, qty.Equal(dec(10)), "failed adjustment must not change stock")

	qty, err = ledger.Adjust(ctx, filled15, dec(-10))
	require.NoError(t, err)
	assert.True(t, qty.IsZero())
}

func TestAdjustCreatesUnknownSKUOnPositiveMovement(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.New())
	vaporizer := domain.AccessorySKU("vaporizer")

	_, err := ledger.Adjust(ctx, vaporizer, dec(-1))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	qty, err := ledger.Adjust(ctx, vaporizer, dec(3))
	require.NoError(t, err)
	assert.True(t, qty.Equal(dec(3)))
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, filled15, 25)
	ledger := NewLedger(s)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, bad int
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Adjust(ctx, filled15, dec(-1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			if errors.Is(err, store.ErrInsufficientStock) {
				bad++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, ok)
	assert.Equal(t, 35, bad)
	qty, err := ledger.Get(ctx, filled15)
	require.NoError(t, err)
	assert.True(t, qty.IsZero())
}

func TestApplyTxIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, filled15, 5)
	seed(t, s, empty15, 1)
	ledger := NewLedger(s)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return ledger.ApplyTx(ctx, tx, []domain.StockMovement{
			{SKU: filled15, Delta: dec(-2)},
			{SKU: withCust, Delta: dec(2)},
			{SKU: empty15, Delta: dec(-3)},
		})
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	levels, err := s.GetStockLevels(ctx, []domain.SKUKey{filled15, empty15, withCust})
	require.NoError(t, err)
	assert.True(t, levels[filled15].Equal(dec(5)))
	assert.True(t, levels[empty15].Equal(dec(1)))
	assert.True(t, levels[withCust].IsZero())
}

func TestMergeMovementsSumsAndSorts(t *testing.T) {
	merged := MergeMovements([]domain.StockMovement{
		{SKU: withCust, Delta: dec(1)},
		{SKU: filled15, Delta: dec(-1)},
		{SKU: filled15, Delta: dec(-2)},
		{SKU: empty15, Delta: dec(2)},
		{SKU: empty15, Delta: dec(-2)},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, filled15, merged[0].SKU)
	assert.True(t, merged[0].Delta.Equal(dec(-3)))
	assert.Equal(t, withCust, merged[1].SKU)
}

func TestReceiveWeightedAverageCost(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(memory.New())
	gas := domain.GasSKU("lpg")

	_, err := ledger.Receive(ctx, domain.StockReceiveRequest{SKU: gas, Quantity: dec(100), UnitCost: dec(200)})
	require.NoError(t, err)
	item, err := ledger.Receive(ctx, domain.StockReceiveRequest{SKU: gas, Quantity: dec(300), UnitCost: dec(240)})
	require.NoError(t, err)

	assert.True(t, item.Quantity.Equal(dec(400)))
	assert.Equal(t, "230", item.UnitCost.String())

	_, err = ledger.Receive(ctx, domain.StockReceiveRequest{SKU: gas, Quantity: dec(0), UnitCost: dec(1)})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)
}

func TestPopulationSumsAllStatuses(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, filled15, 7)
	seed(t, s, empty15, 2)
	seed(t, s, withCust, 4)

	pop, err := NewLedger(s).Population(ctx, "15kg")
	require.NoError(t, err)
	assert.Equal(t, "15KG", pop.CylinderType)
	assert.True(t, pop.Total.Equal(dec(13)))
	assert.True(t, pop.ByStatus[domain.CylinderWithCustomer].Equal(dec(4)))
}

func TestCheckReportsPerLine(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, filled15, 3)
	regulator := domain.AccessorySKU("regulator")
	seed(t, s, regulator, 10)

	report, err := NewChecker(s).Check(ctx, []domain.AvailabilityRequest{
		{SKU: filled15, Requested: dec(5)},
		{SKU: regulator, Requested: dec(2)},
	})
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.True(t, report.HasErrors)
	require.Len(t, report.Lines, 2)
	assert.True(t, report.Lines[0].Shortfall.Equal(dec(2)))
	assert.False(t, report.Lines[0].IsValid)
	assert.True(t, report.Lines[1].IsValid)

	sf := ShortfallFromReport(report)
	require.ErrorIs(t, sf, store.ErrInsufficientStock)
	assert.Contains(t, sf.Error(), string(filled15))

	qty, err := NewLedger(s).Get(ctx, filled15)
	require.NoError(t, err)
	assert.True(t, qty.Equal(dec(3)), "check must not mutate stock")
}

func TestCheckSumsRepeatedSKUs(t *testing.T) {
	s := memory.New()
	seed(t, s, filled15, 4)

	report, err := NewChecker(s).Check(context.Background(), []domain.AvailabilityRequest{
		{SKU: filled15, Requested: dec(3)},
		{SKU: filled15, Requested: dec(2)},
	})
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.True(t, report.Lines[0].Requested.Equal(dec(5)))
	assert.False(t, report.IsValid)
}

func TestCheckRejectsNonPositiveDemand(t *testing.T) {
	checker := NewChecker(memory.New())

	_, err := checker.Check(context.Background(), []domain.AvailabilityRequest{{SKU: filled15, Requested: dec(0)}})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)

	_, err = checker.Check(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCheckUnknownSKUHasNothingAvailable(t *testing.T) {
	report, err := NewChecker(memory.New()).Check(context.Background(), []domain.AvailabilityRequest{
		{SKU: domain.AccessorySKU("hose clamp"), Requested: dec(1)},
	})
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.True(t, report.Lines[0].Available.IsZero())
}

func TestRepeatedCheckGivesIdenticalReports(t *testing.T) {
	s := memory.New()
	seed(t, s, filled15, 5)
	seed(t, s, empty15, 2)
	checker := NewChecker(s)
	demand := []domain.AvailabilityRequest{
		{SKU: filled15, Requested: dec(6)},
		{SKU: empty15, Requested: dec(1)},
	}

	first, err := checker.Check(context.Background(), demand)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := checker.Check(context.Background(), demand)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAvailabilityBoundary(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s, filled15, 5)
	checker := NewChecker(s)
	ledger := NewLedger(s)

	checks := []struct {
		name      string
		requested int64
		valid     bool
		shortfall int64
	}{
		{name: "one over stock", requested: 6, valid: false, shortfall: 1},
		{name: "exactly stock", requested: 5, valid: true, shortfall: 0},
	}
	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			report, err := checker.Check(ctx, []domain.AvailabilityRequest{{SKU: filled15, Requested: dec(tc.requested)}})
			require.NoError(t, err)
			require.Len(t, report.Lines, 1)
			assert.Equal(t, tc.valid, report.IsValid)
			assert.True(t, report.Lines[0].Available.Equal(dec(5)))
			assert.True(t, report.Lines[0].Shortfall.Equal(dec(tc.shortfall)))
		})
	}

	adjustments := []struct {
		name    string
		delta   int64
		want    int64
		wantErr error
	}{
		{name: "draw to zero", delta: -5, want: 0},
		{name: "below zero", delta: -1, want: 0, wantErr: store.ErrInsufficientStock},
	}
	for _, tc := range adjustments {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Adjust(ctx, filled15, dec(tc.delta))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			qty, err := ledger.Get(ctx, filled15)
			require.NoError(t, err)
			assert.True(t, qty.Equal(dec(tc.want)), "got %s", qty)
		})
	}
}
