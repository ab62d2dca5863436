package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

// memTx runs with Store.mu held for writing; its methods must not take the lock.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockStockItem(ctx context.Context, sku domain.SKUKey) (*domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, ok := t.s.stock[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (t *memTx) UpsertStockItem(ctx context.Context, item domain.StockItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.Quantity.IsNegative() {
		return store.ErrInsufficientStock
	}
	prev, had := t.s.stock[item.SKU]
	t.s.stock[item.SKU] = item
	t.undo = append(t.undo, func() {
		if had {
			t.s.stock[item.SKU] = prev
			return
		}
		delete(t.s.stock, item.SKU)
	})
	return nil
}

func (t *memTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, ok := t.s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	out := cloneAccount(account)
	return &out, nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, id string, balance decimal.Decimal, due map[string]int64, at time.Time) error {
	prev, ok := t.s.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	next := cloneAccount(prev)
	next.Balance = balance
	next.DueCounts = domain.CloneCounts(due)
	next.UpdatedAt = at
	t.s.accounts[id] = next
	t.undo = append(t.undo, func() { t.s.accounts[id] = prev })
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if _, exists := t.s.entries[entry.ID]; exists || entry.ID == "" {
		return domain.LedgerEntry{}, store.ErrInvalidTransaction
	}
	t.s.lastEntrySeq++
	entry.Seq = t.s.lastEntrySeq
	entry = cloneEntry(entry)
	t.s.entries[entry.ID] = entry
	t.s.entriesByAccount[entry.AccountID] = append(t.s.entriesByAccount[entry.AccountID], entry.ID)

	t.undo = append(t.undo, func() {
		delete(t.s.entries, entry.ID)
		ids := t.s.entriesByAccount[entry.AccountID]
		t.s.entriesByAccount[entry.AccountID] = ids[:len(ids)-1]
		t.s.lastEntrySeq--
	})
	return cloneEntry(entry), nil
}

func (t *memTx) LockEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := t.s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneEntry(entry)
	return &out, nil
}

func (t *memTx) MarkEntryVoided(_ context.Context, id string, reason string, at time.Time) error {
	prev, ok := t.s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	next := cloneEntry(prev)
	next.Voided = true
	next.VoidReason = reason
	next.VoidedAt = &at
	t.s.entries[id] = next
	t.undo = append(t.undo, func() { t.s.entries[id] = prev })
	return nil
}

func (t *memTx) ListAccountEntries(_ context.Context, accountID string) ([]domain.LedgerEntry, error) {
	ids := t.s.entriesByAccount[accountID]
	out := make([]domain.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneEntry(t.s.entries[id]))
	}
	slices.SortFunc(out, func(a, b domain.LedgerEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

func (t *memTx) FindCommittedTransaction(_ context.Context, key string) (*domain.TransactionRecord, error) {
	doc, ok := t.s.committedByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneRecord(t.s.transactionsByDoc[doc])
	return &out, nil
}

func (t *memTx) InsertTransaction(_ context.Context, rec domain.TransactionRecord) error {
	if rec.DocumentNumber == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.s.transactionsByDoc[rec.DocumentNumber]; exists {
		return store.ErrInvalidTransaction
	}
	indexKey := rec.Status == domain.TxCommitted && rec.IdempotencyKey != ""
	if indexKey {
		if _, exists := t.s.committedByIdem[rec.IdempotencyKey]; exists {
			return store.ErrDuplicateIdempotency
		}
		t.s.committedByIdem[rec.IdempotencyKey] = rec.DocumentNumber
	}
	t.s.transactionsByDoc[rec.DocumentNumber] = cloneRecord(rec)

	t.undo = append(t.undo, func() {
		delete(t.s.transactionsByDoc, rec.DocumentNumber)
		if indexKey {
			delete(t.s.committedByIdem, rec.IdempotencyKey)
		}
	})
	return nil
}

func (t *memTx) InsertPurchase(_ context.Context, purchase domain.PurchaseInvoice) error {
	if _, exists := t.s.purchases[purchase.ID]; exists || purchase.ID == "" {
		return store.ErrInvalidTransaction
	}
	t.s.purchases[purchase.ID] = clonePurchase(purchase)
	t.undo = append(t.undo, func() { delete(t.s.purchases, purchase.ID) })
	return nil
}

func (t *memTx) LockPurchase(ctx context.Context, id string) (*domain.PurchaseInvoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	purchase, ok := t.s.purchases[id]
	if !ok {
		return nil, store.ErrPurchaseNotFound
	}
	out := clonePurchase(purchase)
	return &out, nil
}

func (t *memTx) UpdatePurchasePayment(_ context.Context, purchase domain.PurchaseInvoice) error {
	prev, ok := t.s.purchases[purchase.ID]
	if !ok {
		return store.ErrPurchaseNotFound
	}
	next := clonePurchase(prev)
	next.PaidAmount = purchase.PaidAmount
	next.BalanceAmount = purchase.BalanceAmount
	next.PaymentStatus = purchase.PaymentStatus
	next.UpdatedAt = purchase.UpdatedAt
	t.s.purchases[purchase.ID] = next
	t.undo = append(t.undo, func() { t.s.purchases[purchase.ID] = prev })
	return nil
}

func (t *memTx) InsertPurchasePayment(_ context.Context, payment domain.PurchasePayment) error {
	if _, ok := t.s.purchases[payment.PurchaseID]; !ok {
		return store.ErrPurchaseNotFound
	}
	t.s.paymentsByPurchase[payment.PurchaseID] = append(t.s.paymentsByPurchase[payment.PurchaseID], payment)
	t.undo = append(t.undo, func() {
		list := t.s.paymentsByPurchase[payment.PurchaseID]
		t.s.paymentsByPurchase[payment.PurchaseID] = list[:len(list)-1]
	})
	return nil
}
