package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrAllocationUnavailable  = errors.New("document number allocation unavailable")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateIdempotency   = errors.New("idempotency key already committed")
	ErrForbidden              = errors.New("forbidden")

	ErrAccountNotFound  = fmt.Errorf("account %w", ErrNotFound)
	ErrPurchaseNotFound = fmt.Errorf("purchase %w", ErrNotFound)
)

// Reader holds the queries that run outside a storage transaction. Each call
// observes a single consistent snapshot.
type Reader interface {
	GetStockLevels(ctx context.Context, skus []domain.SKUKey) (map[domain.SKUKey]decimal.Decimal, error)
	ListStockItems(ctx context.Context) ([]domain.StockItem, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context, kind domain.AccountKind) ([]domain.Account, error)
	GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID string, q domain.HistoryQuery) ([]domain.LedgerEntry, int, error)
	GetPurchase(ctx context.Context, id string) (*domain.PurchaseInvoice, error)
	ListPurchasePayments(ctx context.Context, purchaseID string) ([]domain.PurchasePayment, error)
	FindTransactionByDocument(ctx context.Context, documentNumber string) (*domain.TransactionRecord, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.TransactionRecord, error)
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// Tx is the write surface of one storage transaction. Lock methods take a row
// lock held until the transaction ends.
type Tx interface {
	LockStockItem(ctx context.Context, sku domain.SKUKey) (*domain.StockItem, error)
	UpsertStockItem(ctx context.Context, item domain.StockItem) error

	LockAccount(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, due map[string]int64, at time.Time) error
	InsertEntry(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error)
	LockEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	MarkEntryVoided(ctx context.Context, id string, reason string, at time.Time) error
	ListAccountEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)

	// FindCommittedTransaction reads the COMMITTED record holding key as seen
	// by this transaction.
	FindCommittedTransaction(ctx context.Context, key string) (*domain.TransactionRecord, error)
	InsertTransaction(ctx context.Context, rec domain.TransactionRecord) error

	InsertPurchase(ctx context.Context, purchase domain.PurchaseInvoice) error
	LockPurchase(ctx context.Context, id string) (*domain.PurchaseInvoice, error)
	UpdatePurchasePayment(ctx context.Context, purchase domain.PurchaseInvoice) error
	InsertPurchasePayment(ctx context.Context, payment domain.PurchasePayment) error
}

type Store interface {
	Reader

	// WithTx runs fn in one storage transaction. A non-nil error from fn, or
	// a failed commit, discards every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// NextSequence atomically creates or increments the counter for key and
	// returns the new value.
	NextSequence(ctx context.Context, key domain.SequenceKey) (int64, error)

	CreateAccount(ctx context.Context, account domain.Account) error
	SaveTransaction(ctx context.Context, rec domain.TransactionRecord) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
