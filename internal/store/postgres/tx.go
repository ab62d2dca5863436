package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockStockItem(ctx context.Context, sku domain.SKUKey) (*domain.StockItem, error) {
	item := domain.StockItem{SKU: sku}
	err := t.tx.QueryRowContext(ctx, `
		SELECT quantity, unit_cost, updated_at
		FROM stock_items
		WHERE sku = $1
		FOR UPDATE
	`, string(sku)).Scan(&item.Quantity, &item.UnitCost, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (t *pgTx) UpsertStockItem(ctx context.Context, item domain.StockItem) error {
	if item.Quantity.IsNegative() {
		return store.ErrInsufficientStock
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_items (sku, quantity, unit_cost, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (sku)
		DO UPDATE SET quantity = EXCLUDED.quantity, unit_cost = EXCLUDED.unit_cost, updated_at = EXCLUDED.updated_at
	`, string(item.SKU), item.Quantity, item.UnitCost, item.UpdatedAt)
	return err
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, due map[string]int64, at time.Time) error {
	payload, err := marshalCounts(due)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $2, due_counts = $3, updated_at = $4
		WHERE id = $1
	`, id, balance, payload, at)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrAccountNotFound)
}

func (t *pgTx) InsertEntry(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	unitDeltas, err := marshalCounts(entry.UnitDeltas)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	dueAfter, err := marshalCounts(entry.DueAfter)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (
			id, account_id, kind, document_number, monetary_delta, unit_deltas,
			balance_before, balance_after, due_after, notes, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq
	`, entry.ID, entry.AccountID, string(entry.Kind), entry.DocumentNumber, entry.MonetaryDelta, unitDeltas,
		entry.BalanceBefore, entry.BalanceAfter, dueAfter, entry.Notes, entry.CreatedBy, entry.CreatedAt).Scan(&entry.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.LedgerEntry{}, store.ErrInvalidTransaction
		}
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (t *pgTx) LockEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(t.tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (t *pgTx) MarkEntryVoided(ctx context.Context, id string, reason string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET voided = true, voided_at = $2, void_reason = $3
		WHERE id = $1
	`, id, at, reason)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}

func (t *pgTx) ListAccountEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 64)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *pgTx) FindCommittedTransaction(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	return findTransaction(ctx, t.tx, committedByKey, key)
}

func (t *pgTx) InsertTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	return insertTransaction(ctx, t.tx, rec)
}

func (t *pgTx) InsertPurchase(ctx context.Context, purchase domain.PurchaseInvoice) error {
	lines, err := json.Marshal(purchase.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO purchase_invoices (
			id, document_number, vendor_id, category, lines, total, paid_amount, balance_amount,
			payment_status, notes, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, purchase.ID, purchase.DocumentNumber, purchase.VendorID, purchase.Category, string(lines), purchase.Total,
		purchase.PaidAmount, purchase.BalanceAmount, string(purchase.PaymentStatus), purchase.Notes, purchase.CreatedBy,
		purchase.CreatedAt, purchase.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (t *pgTx) LockPurchase(ctx context.Context, id string) (*domain.PurchaseInvoice, error) {
	purchase, err := scanPurchase(t.tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchase_invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPurchaseNotFound
		}
		return nil, err
	}
	return purchase, nil
}

// UpdatePurchasePayment writes the three payment fields in one statement.
func (t *pgTx) UpdatePurchasePayment(ctx context.Context, purchase domain.PurchaseInvoice) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_invoices
		SET paid_amount = $2, balance_amount = $3, payment_status = $4, updated_at = $5
		WHERE id = $1
	`, purchase.ID, purchase.PaidAmount, purchase.BalanceAmount, string(purchase.PaymentStatus), purchase.UpdatedAt)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrPurchaseNotFound)
}

func (t *pgTx) InsertPurchasePayment(ctx context.Context, payment domain.PurchasePayment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchase_payments (id, purchase_id, amount, method, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.ID, payment.PurchaseID, payment.Amount, payment.Method, payment.RecordedBy, payment.CreatedAt)
	return err
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
