package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/xid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// CommitRequest describes one ledger posting.
type CommitRequest struct {
	AccountID      string
	Kind           domain.EntryKind
	DocumentNumber string
	MonetaryDelta  decimal.Decimal
	UnitDeltas     map[string]int64
	Notes          string
	CreatedBy      string
}

// Ledger keeps the append-only entry log per account and the cached balance
// and due counts on the account row in step with it.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Commit(ctx context.Context, req CommitRequest) (domain.LedgerEntry, domain.Account, error) {
	var (
		entry   domain.LedgerEntry
		account domain.Account
	)
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		entry, account, err = l.CommitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, domain.Account{}, err
	}
	return entry, account, nil
}

// CommitTx posts req inside tx. The account row lock serializes postings per
// account, so BalanceBefore always equals the previous entry's BalanceAfter.
func (l *Ledger) CommitTx(ctx context.Context, tx store.Tx, req CommitRequest) (domain.LedgerEntry, domain.Account, error) {
	if strings.TrimSpace(req.AccountID) == "" || !req.Kind.Valid() {
		return domain.LedgerEntry{}, domain.Account{}, store.ErrInvalidTransaction
	}
	units := domain.CloneCounts(req.UnitDeltas)
	if req.MonetaryDelta.IsZero() && len(units) == 0 {
		return domain.LedgerEntry{}, domain.Account{}, store.ErrInvalidAmount
	}

	account, err := tx.LockAccount(ctx, req.AccountID)
	if err != nil {
		return domain.LedgerEntry{}, domain.Account{}, err
	}

	at := l.now()
	before := account.Balance
	after := before.Add(req.MonetaryDelta)
	due := domain.CloneCounts(account.DueCounts)
	for category, delta := range units {
		due[category] += delta
	}
	due = domain.CloneCounts(due)

	entry, err := tx.InsertEntry(ctx, domain.LedgerEntry{
		ID:             xid.New("le"),
		AccountID:      account.ID,
		Kind:           req.Kind,
		DocumentNumber: req.DocumentNumber,
		MonetaryDelta:  req.MonetaryDelta,
		UnitDeltas:     units,
		BalanceBefore:  before,
		BalanceAfter:   after,
		DueAfter:       due,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedBy:      req.CreatedBy,
		CreatedAt:      at,
	})
	if err != nil {
		return domain.LedgerEntry{}, domain.Account{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.UpdateAccountBalance(ctx, account.ID, after, due, at); err != nil {
		return domain.LedgerEntry{}, domain.Account{}, err
	}
	account.Balance = after
	account.DueCounts = due
	account.UpdatedAt = at
	return entry, *account, nil
}

// Void marks an entry voided and rebuilds the account's cached view from the
// remaining entries. Voiding twice returns the current state unchanged.
func (l *Ledger) Void(ctx context.Context, entryID string, reason string) (domain.VoidEntryResponse, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return domain.VoidEntryResponse{}, store.ErrInvalidTransaction
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}

	target, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return domain.VoidEntryResponse{}, err
	}

	var out domain.VoidEntryResponse
	err = l.store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.LockAccount(ctx, target.AccountID)
		if err != nil {
			return err
		}
		entry, err := tx.LockEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Voided {
			out = domain.VoidEntryResponse{Entry: *entry, Account: *account}
			return nil
		}

		at := l.now()
		if err := tx.MarkEntryVoided(ctx, entryID, reason, at); err != nil {
			return err
		}
		entries, err := tx.ListAccountEntries(ctx, account.ID)
		if err != nil {
			return err
		}
		balance, due, _ := Fold(entries)
		if err := tx.UpdateAccountBalance(ctx, account.ID, balance, due, at); err != nil {
			return err
		}

		entry.Voided = true
		entry.VoidedAt = &at
		entry.VoidReason = reason
		account.Balance = balance
		account.DueCounts = due
		account.UpdatedAt = at
		out = domain.VoidEntryResponse{Entry: *entry, Account: *account}
		return nil
	})
	if err != nil {
		return domain.VoidEntryResponse{}, err
	}
	return out, nil
}

// History pages an account's entries newest first.
func (l *Ledger) History(ctx context.Context, accountID string, q domain.HistoryQuery) (domain.HistoryPage, error) {
	if strings.TrimSpace(accountID) == "" {
		return domain.HistoryPage{}, store.ErrInvalidTransaction
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return domain.HistoryPage{}, fmt.Errorf("%w: from must be before to", store.ErrInvalidTransaction)
	}
	q.Page, q.Limit = NormalizePage(q.Page, q.Limit)

	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return domain.HistoryPage{}, err
	}
	entries, total, err := l.store.ListEntries(ctx, accountID, q)
	if err != nil {
		return domain.HistoryPage{}, err
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return domain.HistoryPage{
		Entries: entries,
		Page:    q.Page,
		Limit:   q.Limit,
		Total:   total,
		Pages:   (total + q.Limit - 1) / q.Limit,
	}, nil
}

func NormalizePage(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// Reconcile replays the account's entries and compares the result with the
// cached balance and due counts. With repair set, drift is overwritten by the
// replayed values.
func (l *Ledger) Reconcile(ctx context.Context, accountID string, repair bool) (domain.ReconcileReport, error) {
	var report domain.ReconcileReport
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := tx.ListAccountEntries(ctx, account.ID)
		if err != nil {
			return err
		}
		balance, due, voided := Fold(entries)

		report = domain.ReconcileReport{
			AccountID:     account.ID,
			Entries:       len(entries),
			Voided:        voided,
			CachedBalance: account.Balance,
			FoldedBalance: balance,
			CachedDue:     domain.CloneCounts(account.DueCounts),
			FoldedDue:     due,
		}
		report.Drift = !account.Balance.Equal(balance) || !domain.CountsEqual(account.DueCounts, due)
		if !report.Drift || !repair {
			return nil
		}
		if err := tx.UpdateAccountBalance(ctx, account.ID, balance, due, l.now()); err != nil {
			return err
		}
		report.Repaired = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ReconcileReport{}, store.ErrAccountNotFound
		}
		return domain.ReconcileReport{}, err
	}
	return report, nil
}

// Fold sums the non-voided entries into a balance and due counts, and reports
// how many entries were skipped as voided.
func Fold(entries []domain.LedgerEntry) (decimal.Decimal, map[string]int64, int) {
	balance := decimal.Zero
	due := make(map[string]int64)
	voided := 0
	for _, entry := range entries {
		if entry.Voided {
			voided++
			continue
		}
		balance = balance.Add(entry.MonetaryDelta)
		for category, delta := range entry.UnitDeltas {
			due[category] += delta
		}
	}
	return balance, domain.CloneCounts(due), voided
}
