package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) NextSequence(ctx context.Context, key domain.SequenceKey) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequence_counters (kind, day, last_value, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (kind, day)
		DO UPDATE SET last_value = sequence_counters.last_value + 1, updated_at = now()
		RETURNING last_value
	`, key.Kind, key.Day).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) CurrentSequence(ctx context.Context, key domain.SequenceKey) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_value FROM sequence_counters WHERE kind = $1 AND day = $2
	`, key.Kind, key.Day).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) GetStockLevels(ctx context.Context, skus []domain.SKUKey) (map[domain.SKUKey]decimal.Decimal, error) {
	levels := make(map[domain.SKUKey]decimal.Decimal, len(skus))
	keys := make([]string, 0, len(skus))
	for _, sku := range skus {
		levels[sku] = decimal.Zero
		keys = append(keys, string(sku))
	}
	if len(keys) == 0 {
		return levels, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, quantity
		FROM stock_items
		WHERE sku = ANY($1)
	`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sku string
		var qty decimal.Decimal
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		levels[domain.SKUKey(sku)] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}

func (s *Store) ListStockItems(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, quantity, unit_cost, updated_at
		FROM stock_items
		ORDER BY sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 32)
	for rows.Next() {
		var item domain.StockItem
		var sku string
		if err := rows.Scan(&sku, &item.Quantity, &item.UnitCost, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.SKU = domain.SKUKey(sku)
		item.UpdatedAt = item.UpdatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	due, err := marshalCounts(account.DueCounts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, kind, name, category, balance, due_counts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, account.ID, string(account.Kind), account.Name, account.Category, account.Balance, due, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

const accountColumns = `id, kind, name, category, balance, due_counts, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context, kind domain.AccountKind) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE ($1 = '' OR kind = $1)
		ORDER BY name, id
	`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, 32)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

const entryColumns = `id, seq, account_id, kind, document_number, monetary_delta, unit_deltas,
	balance_before, balance_after, due_after, notes, created_by, created_at, voided, voided_at, void_reason`

func (s *Store) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListEntries counts and pages inside one read-only snapshot so total and
// entries agree.
func (s *Store) ListEntries(ctx context.Context, accountID string, q domain.HistoryQuery) ([]domain.LedgerEntry, int, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = sqlTx.Rollback() }()

	var exists bool
	if err := sqlTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, store.ErrAccountNotFound
	}

	from, to := nullTimeBound(q.From), nullTimeBound(q.To)
	var total int
	if err := sqlTx.QueryRowContext(ctx, `
		SELECT count(*)
		FROM ledger_entries
		WHERE account_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
	`, accountID, from, to).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := sqlTx.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY seq DESC
		LIMIT $4 OFFSET $5
	`, accountID, from, to, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, q.Limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

const purchaseColumns = `id, document_number, vendor_id, category, lines, total, paid_amount, balance_amount,
	payment_status, notes, created_by, created_at, updated_at`

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.PurchaseInvoice, error) {
	purchase, err := scanPurchase(s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchase_invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPurchaseNotFound
		}
		return nil, err
	}
	return purchase, nil
}

func (s *Store) ListPurchasePayments(ctx context.Context, purchaseID string) ([]domain.PurchasePayment, error) {
	if _, err := s.GetPurchase(ctx, purchaseID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, purchase_id, amount, method, recorded_by, created_at
		FROM purchase_payments
		WHERE purchase_id = $1
		ORDER BY created_at, id
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PurchasePayment, 0, 8)
	for rows.Next() {
		var p domain.PurchasePayment
		if err := rows.Scan(&p.ID, &p.PurchaseID, &p.Amount, &p.Method, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

const transactionColumns = `document_number, account_id, kind, status, idempotency_key, entry_id, movements,
	monetary_delta, failure_reason, created_by, created_at`

const committedByKey = `WHERE idempotency_key = $1 AND status = 'COMMITTED'`

func (s *Store) FindTransactionByDocument(ctx context.Context, documentNumber string) (*domain.TransactionRecord, error) {
	return findTransaction(ctx, s.db, `WHERE document_number = $1`, documentNumber)
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	return findTransaction(ctx, s.db, committedByKey, key)
}

func findTransaction(ctx context.Context, db queryer, where string, value string) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var kind, status string
	var movements []byte
	err := db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, value).Scan(
		&rec.DocumentNumber, &rec.AccountID, &kind, &status, &rec.IdempotencyKey, &rec.EntryID, &movements,
		&rec.MonetaryDelta, &rec.FailureReason, &rec.CreatedBy, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec.Kind = domain.EntryKind(kind)
	rec.Status = domain.TransactionStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := json.Unmarshal(movements, &rec.Movements); err != nil {
		return nil, fmt.Errorf("decode movements: %w", err)
	}
	return &rec, nil
}

func (s *Store) SaveTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	return insertTransaction(ctx, s.db, rec)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var kind string
	var due []byte
	if err := row.Scan(&a.ID, &kind, &a.Name, &a.Category, &a.Balance, &due, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Kind = domain.AccountKind(kind)
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	counts, err := unmarshalCounts(due)
	if err != nil {
		return nil, err
	}
	a.DueCounts = counts
	return &a, nil
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var kind string
	var unitDeltas, dueAfter []byte
	var voidedAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.Seq, &e.AccountID, &kind, &e.DocumentNumber, &e.MonetaryDelta, &unitDeltas,
		&e.BalanceBefore, &e.BalanceAfter, &dueAfter, &e.Notes, &e.CreatedBy, &e.CreatedAt,
		&e.Voided, &voidedAt, &e.VoidReason,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = domain.EntryKind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		e.VoidedAt = &at
	}
	if e.UnitDeltas, err = unmarshalCounts(unitDeltas); err != nil {
		return nil, err
	}
	if e.DueAfter, err = unmarshalCounts(dueAfter); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanPurchase(row rowScanner) (*domain.PurchaseInvoice, error) {
	var p domain.PurchaseInvoice
	var lines []byte
	var status string
	err := row.Scan(
		&p.ID, &p.DocumentNumber, &p.VendorID, &p.Category, &lines, &p.Total, &p.PaidAmount, &p.BalanceAmount,
		&status, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaymentStatus = domain.PaymentStatus(status)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	if err := json.Unmarshal(lines, &p.Lines); err != nil {
		return nil, fmt.Errorf("decode purchase lines: %w", err)
	}
	return &p, nil
}

func insertTransaction(ctx context.Context, db execer, rec domain.TransactionRecord) error {
	movements, err := json.Marshal(rec.Movements)
	if err != nil {
		return err
	}
	if rec.Movements == nil {
		movements = []byte("[]")
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO transactions (
			document_number, account_id, kind, status, idempotency_key, entry_id, movements,
			monetary_delta, failure_reason, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.DocumentNumber, rec.AccountID, string(rec.Kind), string(rec.Status), rec.IdempotencyKey, rec.EntryID, string(movements),
		rec.MonetaryDelta, rec.FailureReason, rec.CreatedBy, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			if rec.Status == domain.TxCommitted && rec.IdempotencyKey != "" && constraintName(err) == "transactions_committed_idempotency_idx" {
				return store.ErrDuplicateIdempotency
			}
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func marshalCounts(counts map[string]int64) (string, error) {
	payload, err := json.Marshal(domain.CloneCounts(counts))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalCounts(raw []byte) (map[string]int64, error) {
	counts := map[string]int64{}
	if len(raw) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}
	return counts, nil
}

// classify maps postgres failures onto store errors. Serialization failures
// and deadlocks mean another writer won; the stock check constraint means
// a quantity would have gone negative.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %w", store.ErrConcurrentModification, err)
	case "23514":
		return fmt.Errorf("%w: %w", store.ErrInsufficientStock, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func nullTimeBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
