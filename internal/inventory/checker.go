package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

// Checker answers whether current stock covers a set of demands. It reads one
// snapshot and never reserves anything, so a valid report can go stale before
// the caller commits.
type Checker struct {
	reader store.Reader
}

func NewChecker(reader store.Reader) *Checker {
	return &Checker{reader: reader}
}

// Check evaluates demand per SKU. Repeated SKUs are summed into one line, kept
// at the position of their first appearance.
func (c *Checker) Check(ctx context.Context, requests []domain.AvailabilityRequest) (domain.AvailabilityReport, error) {
	if len(requests) == 0 {
		return domain.AvailabilityReport{}, store.ErrInvalidTransaction
	}

	order := make([]domain.SKUKey, 0, len(requests))
	demand := make(map[domain.SKUKey]decimal.Decimal, len(requests))
	for _, req := range requests {
		if req.SKU == "" {
			return domain.AvailabilityReport{}, store.ErrInvalidTransaction
		}
		if !req.Requested.IsPositive() {
			return domain.AvailabilityReport{}, store.ErrInvalidAmount
		}
		if _, seen := demand[req.SKU]; !seen {
			order = append(order, req.SKU)
		}
		demand[req.SKU] = demand[req.SKU].Add(req.Requested)
	}

	levels, err := c.reader.GetStockLevels(ctx, order)
	if err != nil {
		return domain.AvailabilityReport{}, err
	}

	report := domain.AvailabilityReport{Lines: make([]domain.AvailabilityLine, 0, len(order)), IsValid: true}
	for _, sku := range order {
		requested := demand[sku]
		available := levels[sku]
		line := domain.AvailabilityLine{
			SKU:       sku,
			Requested: requested,
			Available: available,
			Shortfall: decimal.Zero,
			IsValid:   available.GreaterThanOrEqual(requested),
		}
		if !line.IsValid {
			line.Shortfall = requested.Sub(available)
			report.HasErrors = true
			report.IsValid = false
		}
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}
