package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CylinderStatus string

const (
	CylinderFilled       CylinderStatus = "FILLED"
	CylinderEmpty        CylinderStatus = "EMPTY"
	CylinderWithCustomer CylinderStatus = "WITH_CUSTOMER"
)

var CylinderStatuses = []CylinderStatus{CylinderFilled, CylinderEmpty, CylinderWithCustomer}

const (
	accessoryFamily = "ACC"
	gasFamily       = "GAS"
)

// SKUKey identifies a stock-keeping unit as FAMILY/QUALIFIER, e.g. "15KG/FILLED"
// or "ACC/REGULATOR". Families are not fixed; new cylinder types and accessory
// categories appear at runtime.
type SKUKey string

func CylinderSKU(cylinderType string, status CylinderStatus) SKUKey {
	return SKUKey(normalizePart(cylinderType) + "/" + string(status))
}

func AccessorySKU(category string) SKUKey {
	return SKUKey(accessoryFamily + "/" + normalizePart(category))
}

func GasSKU(grade string) SKUKey {
	return SKUKey(gasFamily + "/" + normalizePart(grade))
}

// ParseSKU normalizes user input into a key. It reports false when either
// side of the separator is empty.
func ParseSKU(raw string) (SKUKey, bool) {
	family, qualifier, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return "", false
	}
	family, qualifier = normalizePart(family), normalizePart(qualifier)
	if family == "" || qualifier == "" {
		return "", false
	}
	return SKUKey(family + "/" + qualifier), true
}

func (k SKUKey) Family() string {
	family, _, _ := strings.Cut(string(k), "/")
	return family
}

func (k SKUKey) Qualifier() string {
	_, qualifier, _ := strings.Cut(string(k), "/")
	return qualifier
}

// IsCylinder reports whether the key names a cylinder type at a tracked status.
func (k SKUKey) IsCylinder() bool {
	q := CylinderStatus(k.Qualifier())
	return k.Family() != accessoryFamily && k.Family() != gasFamily &&
		(q == CylinderFilled || q == CylinderEmpty || q == CylinderWithCustomer)
}

func normalizePart(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

// NormalizeCategory gives the due-count key for a cylinder type.
func NormalizeCategory(cylinderType string) string {
	return normalizePart(cylinderType)
}

type StockItem struct {
	SKU       SKUKey          `json:"sku"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type StockMovement struct {
	SKU   SKUKey          `json:"sku"`
	Delta decimal.Decimal `json:"delta"`
}

type StockReceiveRequest struct {
	SKU      SKUKey          `json:"sku"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type AvailabilityRequest struct {
	SKU       SKUKey          `json:"sku"`
	Requested decimal.Decimal `json:"requested"`
}

type AvailabilityLine struct {
	SKU       SKUKey          `json:"sku"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
	IsValid   bool            `json:"is_valid"`
}

type AvailabilityReport struct {
	Lines     []AvailabilityLine `json:"lines"`
	HasErrors bool               `json:"has_errors"`
	IsValid   bool               `json:"is_valid"`
}

// Failing returns only the lines that could not be satisfied.
func (r AvailabilityReport) Failing() []AvailabilityLine {
	out := make([]AvailabilityLine, 0, len(r.Lines))
	for _, line := range r.Lines {
		if !line.IsValid {
			out = append(out, line)
		}
	}
	return out
}

type CylinderPopulation struct {
	CylinderType string                             `json:"cylinder_type"`
	ByStatus     map[CylinderStatus]decimal.Decimal `json:"by_status"`
	Total        decimal.Decimal                    `json:"total"`
}
