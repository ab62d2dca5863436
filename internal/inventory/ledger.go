package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

const costPrecision = 4

// Ledger owns stock quantities per SKU. Every mutation runs under the stock
// row lock of the storage transaction it is given.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Get(ctx context.Context, sku domain.SKUKey) (decimal.Decimal, error) {
	if sku == "" {
		return decimal.Zero, store.ErrInvalidTransaction
	}
	levels, err := l.store.GetStockLevels(ctx, []domain.SKUKey{sku})
	if err != nil {
		return decimal.Zero, err
	}
	return levels[sku], nil
}

func (l *Ledger) List(ctx context.Context) ([]domain.StockItem, error) {
	return l.store.ListStockItems(ctx)
}

// Adjust applies delta to sku in its own storage transaction and returns the
// resulting quantity.
func (l *Ledger) Adjust(ctx context.Context, sku domain.SKUKey, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		qty, err = l.AdjustTx(ctx, tx, sku, delta)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}

// AdjustTx applies delta inside tx. An unknown SKU is created on first
// positive movement. A movement that would take the quantity below zero
// fails with *ShortfallError and leaves the row untouched.
func (l *Ledger) AdjustTx(ctx context.Context, tx store.Tx, sku domain.SKUKey, delta decimal.Decimal) (decimal.Decimal, error) {
	if sku == "" {
		return decimal.Zero, store.ErrInvalidTransaction
	}

	current := domain.StockItem{SKU: sku, Quantity: decimal.Zero, UnitCost: decimal.Zero}
	item, err := tx.LockStockItem(ctx, sku)
	switch {
	case err == nil:
		current = *item
	case errors.Is(err, store.ErrNotFound):
	default:
		return decimal.Zero, err
	}

	if delta.IsZero() {
		return current.Quantity, nil
	}

	next := current.Quantity.Add(delta)
	if next.IsNegative() {
		requested := delta.Neg()
		return current.Quantity, &ShortfallError{Lines: []domain.AvailabilityLine{{
			SKU:       sku,
			Requested: requested,
			Available: current.Quantity,
			Shortfall: requested.Sub(current.Quantity),
		}}}
	}

	current.Quantity = next
	current.UpdatedAt = l.now()
	if err := tx.UpsertStockItem(ctx, current); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// ApplyTx adjusts every SKU named in movements, merged per SKU and locked in
// sorted key order. Shortfalls across all SKUs are reported together.
func (l *Ledger) ApplyTx(ctx context.Context, tx store.Tx, movements []domain.StockMovement) error {
	merged := MergeMovements(movements)
	var shortfall ShortfallError
	for _, mv := range merged {
		_, err := l.AdjustTx(ctx, tx, mv.SKU, mv.Delta)
		var sf *ShortfallError
		if errors.As(err, &sf) {
			shortfall.Lines = append(shortfall.Lines, sf.Lines...)
			continue
		}
		if err != nil {
			return fmt.Errorf("adjust %s: %w", mv.SKU, err)
		}
	}
	if len(shortfall.Lines) > 0 {
		return &shortfall
	}
	return nil
}

// MergeMovements sums deltas per SKU, drops zero nets and sorts by SKU.
func MergeMovements(movements []domain.StockMovement) []domain.StockMovement {
	sums := make(map[domain.SKUKey]decimal.Decimal, len(movements))
	for _, mv := range movements {
		sums[mv.SKU] = sums[mv.SKU].Add(mv.Delta)
	}
	out := make([]domain.StockMovement, 0, len(sums))
	for sku, delta := range sums {
		if delta.IsZero() {
			continue
		}
		out = append(out, domain.StockMovement{SKU: sku, Delta: delta})
	}
	slices.SortFunc(out, func(a, b domain.StockMovement) int { return cmp.Compare(a.SKU, b.SKU) })
	return out
}

func (l *Ledger) Receive(ctx context.Context, req domain.StockReceiveRequest) (domain.StockItem, error) {
	var item domain.StockItem
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		item, err = l.ReceiveTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	return item, nil
}

// ReceiveTx adds stock and moves the unit cost to the weighted average of
// what was on hand and what arrived.
func (l *Ledger) ReceiveTx(ctx context.Context, tx store.Tx, req domain.StockReceiveRequest) (domain.StockItem, error) {
	if req.SKU == "" {
		return domain.StockItem{}, store.ErrInvalidTransaction
	}
	if !req.Quantity.IsPositive() || req.UnitCost.IsNegative() {
		return domain.StockItem{}, store.ErrInvalidAmount
	}

	current := domain.StockItem{SKU: req.SKU, Quantity: decimal.Zero, UnitCost: decimal.Zero}
	item, err := tx.LockStockItem(ctx, req.SKU)
	switch {
	case err == nil:
		current = *item
	case errors.Is(err, store.ErrNotFound):
	default:
		return domain.StockItem{}, err
	}

	qty := current.Quantity.Add(req.Quantity)
	cost := req.UnitCost
	if current.Quantity.IsPositive() {
		value := current.Quantity.Mul(current.UnitCost).Add(req.Quantity.Mul(req.UnitCost))
		cost = value.Div(qty).Round(costPrecision)
	}

	current.Quantity = qty
	current.UnitCost = cost
	current.UpdatedAt = l.now()
	if err := tx.UpsertStockItem(ctx, current); err != nil {
		return domain.StockItem{}, err
	}
	return current, nil
}

// Population counts every cylinder of a type across all tracked statuses.
func (l *Ledger) Population(ctx context.Context, cylinderType string) (domain.CylinderPopulation, error) {
	category := domain.NormalizeCategory(cylinderType)
	if category == "" {
		return domain.CylinderPopulation{}, store.ErrInvalidTransaction
	}

	skus := make([]domain.SKUKey, 0, len(domain.CylinderStatuses))
	for _, status := range domain.CylinderStatuses {
		skus = append(skus, domain.CylinderSKU(category, status))
	}
	levels, err := l.store.GetStockLevels(ctx, skus)
	if err != nil {
		return domain.CylinderPopulation{}, err
	}

	pop := domain.CylinderPopulation{
		CylinderType: category,
		ByStatus:     make(map[domain.CylinderStatus]decimal.Decimal, len(domain.CylinderStatuses)),
		Total:        decimal.Zero,
	}
	for _, status := range domain.CylinderStatuses {
		qty := levels[domain.CylinderSKU(category, status)]
		pop.ByStatus[status] = qty
		pop.Total = pop.Total.Add(qty)
	}
	return pop, nil
}
