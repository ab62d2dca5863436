package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxPending    TransactionStatus = "PENDING"
	TxValidating TransactionStatus = "VALIDATING"
	TxRejected   TransactionStatus = "REJECTED"
	TxCommitting TransactionStatus = "COMMITTING"
	TxCommitted  TransactionStatus = "COMMITTED"
	TxFailed     TransactionStatus = "FAILED"
)

var txTransitions = map[TransactionStatus][]TransactionStatus{
	TxPending:    {TxValidating},
	TxValidating: {TxRejected, TxCommitting},
	TxCommitting: {TxCommitted, TxFailed},
}

// CanTransition reports whether next is a legal successor of s.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	for _, allowed := range txTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransactionStatus) Terminal() bool {
	return s == TxRejected || s == TxCommitted || s == TxFailed
}

// SequenceKey scopes a document counter to a prefix and a business day (YYYYMMDD).
type SequenceKey struct {
	Kind string
	Day  string
}

// TransactionItem is one line of a request. Exactly one of CylinderType or
// Accessory is set.
type TransactionItem struct {
	CylinderType string          `json:"cylinder_type,omitempty"`
	Accessory    string          `json:"accessory,omitempty"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type TransactionRequest struct {
	AccountID      string            `json:"account_id"`
	Kind           EntryKind         `json:"kind"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Items          []TransactionItem `json:"items,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	UnitDeltas     map[string]int64  `json:"unit_deltas,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

type TransactionRecord struct {
	DocumentNumber string            `json:"document_number"`
	AccountID      string            `json:"account_id"`
	Kind           EntryKind         `json:"kind"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	EntryID        string            `json:"entry_id,omitempty"`
	Movements      []StockMovement   `json:"movements,omitempty"`
	MonetaryDelta  decimal.Decimal   `json:"monetary_delta"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CreatedBy      string            `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type TransactionResult struct {
	Status         TransactionStatus   `json:"status"`
	DocumentNumber string              `json:"document_number,omitempty"`
	Entry          *LedgerEntry        `json:"entry,omitempty"`
	Record         *TransactionRecord  `json:"record,omitempty"`
	Availability   *AvailabilityReport `json:"availability,omitempty"`
	Duplicate      bool                `json:"duplicate"`
}
