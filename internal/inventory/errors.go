package inventory

import (
	"fmt"
	"strings"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

// ShortfallError lists the SKUs that could not cover their demand. It matches
// store.ErrInsufficientStock under errors.Is.
type ShortfallError struct {
	Lines []domain.AvailabilityLine
}

func (e *ShortfallError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, line := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s requested=%s available=%s", line.SKU, line.Requested, line.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *ShortfallError) Unwrap() error {
	return store.ErrInsufficientStock
}

// ShortfallFromReport returns nil when the report is valid.
func ShortfallFromReport(report domain.AvailabilityReport) error {
	if report.IsValid {
		return nil
	}
	return &ShortfallError{Lines: report.Failing()}
}
