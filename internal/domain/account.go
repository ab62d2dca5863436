package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountKind string

const (
	AccountCustomer AccountKind = "customer"
	AccountVendor   AccountKind = "vendor"
)

func (k AccountKind) Valid() bool {
	return k == AccountCustomer || k == AccountVendor
}

// Account is the materialized view of an account's ledger. Balance is
// positive when the account owes the company.
type Account struct {
	ID        string           `json:"id"`
	Kind      AccountKind      `json:"kind"`
	Name      string           `json:"name"`
	Category  string           `json:"category,omitempty"`
	Balance   decimal.Decimal  `json:"balance"`
	DueCounts map[string]int64 `json:"due_counts"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type AccountCreateRequest struct {
	ID       string      `json:"id,omitempty"`
	Kind     AccountKind `json:"kind"`
	Name     string      `json:"name"`
	Category string      `json:"category,omitempty"`
}

type EntryKind string

const (
	EntrySale       EntryKind = "SALE"
	EntryPayment    EntryKind = "PAYMENT"
	EntryRefill     EntryKind = "REFILL"
	EntryReturn     EntryKind = "RETURN"
	EntryAdjustment EntryKind = "ADJUSTMENT"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntrySale, EntryPayment, EntryRefill, EntryReturn, EntryAdjustment:
		return true
	}
	return false
}

// LedgerEntry is immutable once written apart from the void fields.
type LedgerEntry struct {
	ID             string           `json:"id"`
	Seq            int64            `json:"seq"`
	AccountID      string           `json:"account_id"`
	Kind           EntryKind        `json:"kind"`
	DocumentNumber string           `json:"document_number,omitempty"`
	MonetaryDelta  decimal.Decimal  `json:"monetary_delta"`
	UnitDeltas     map[string]int64 `json:"unit_deltas,omitempty"`
	BalanceBefore  decimal.Decimal  `json:"balance_before"`
	BalanceAfter   decimal.Decimal  `json:"balance_after"`
	DueAfter       map[string]int64 `json:"due_after,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Voided         bool             `json:"voided"`
	VoidedAt       *time.Time       `json:"voided_at,omitempty"`
	VoidReason     string           `json:"void_reason,omitempty"`
}

type VoidEntryRequest struct {
	EntryID    string `json:"-"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type VoidEntryResponse struct {
	Entry   LedgerEntry `json:"entry"`
	Account Account     `json:"account"`
}

// HistoryQuery filters an account's ledger. Zero From/To leave that side open.
type HistoryQuery struct {
	From  time.Time
	To    time.Time
	Page  int
	Limit int
}

type HistoryPage struct {
	Entries []LedgerEntry `json:"entries"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Total   int           `json:"total"`
	Pages   int           `json:"pages"`
}

type ReconcileReport struct {
	AccountID     string           `json:"account_id"`
	Entries       int              `json:"entries"`
	Voided        int              `json:"voided"`
	CachedBalance decimal.Decimal  `json:"cached_balance"`
	FoldedBalance decimal.Decimal  `json:"folded_balance"`
	CachedDue     map[string]int64 `json:"cached_due"`
	FoldedDue     map[string]int64 `json:"folded_due"`
	Drift         bool             `json:"drift"`
	Repaired      bool             `json:"repaired"`
}

// CloneCounts copies a due-count map, dropping zero entries.
func CloneCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// CountsEqual compares two due-count maps treating missing keys as zero.
func CountsEqual(a, b map[string]int64) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}
