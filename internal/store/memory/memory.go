package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/xid"
)

// Store keeps everything in process. Storage transactions are serialized
// under the write lock and rolled back through an undo log.
type Store struct {
	mu                 sync.RWMutex
	stock              map[domain.SKUKey]domain.StockItem
	accounts           map[string]domain.Account
	entries            map[string]domain.LedgerEntry
	entriesByAccount   map[string][]string
	lastEntrySeq       int64
	transactionsByDoc  map[string]domain.TransactionRecord
	committedByIdem    map[string]string
	purchases          map[string]domain.PurchaseInvoice
	paymentsByPurchase map[string][]domain.PurchasePayment
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount

	seqMu     sync.Mutex
	sequences map[domain.SequenceKey]int64
}

func New() *Store {
	return &Store{
		stock:              make(map[domain.SKUKey]domain.StockItem),
		accounts:           make(map[string]domain.Account),
		entries:            make(map[string]domain.LedgerEntry),
		entriesByAccount:   make(map[string][]string),
		transactionsByDoc:  make(map[string]domain.TransactionRecord),
		committedByIdem:    make(map[string]string),
		purchases:          make(map[string]domain.PurchaseInvoice),
		paymentsByPurchase: make(map[string][]domain.PurchasePayment),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
		sequences:          make(map[domain.SequenceKey]int64),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD;
// hardcoded dev defaults are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, stock and two accounts.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	for sku, qty := range map[domain.SKUKey]int64{
		domain.CylinderSKU("15KG", domain.CylinderFilled): 120,
		domain.CylinderSKU("15KG", domain.CylinderEmpty):  40,
		domain.CylinderSKU("45KG", domain.CylinderFilled): 30,
		domain.CylinderSKU("45KG", domain.CylinderEmpty):  10,
		domain.AccessorySKU("regulator"):                  60,
		domain.AccessorySKU("gas pipe"):                   80,
	} {
		s.stock[sku] = domain.StockItem{SKU: sku, Quantity: decimal.NewFromInt(qty), UnitCost: decimal.Zero, UpdatedAt: now}
	}
	for _, a := range []domain.Account{
		{ID: "cust-walkin", Kind: domain.AccountCustomer, Name: "Walk-in Customer"},
		{ID: "vend-gas", Kind: domain.AccountVendor, Name: "Gas Supplier", Category: domain.CategoryGasPurchase},
	} {
		a.Balance = decimal.Zero
		a.DueCounts = map[string]int64{}
		a.CreatedAt, a.UpdatedAt = now, now
		s.accounts[a.ID] = a
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) NextSequence(ctx context.Context, key domain.SequenceKey) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) CurrentSequence(_ context.Context, key domain.SequenceKey) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.sequences[key], nil
}

func (s *Store) GetStockLevels(_ context.Context, skus []domain.SKUKey) (map[domain.SKUKey]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make(map[domain.SKUKey]decimal.Decimal, len(skus))
	for _, sku := range skus {
		item, ok := s.stock[sku]
		if !ok {
			levels[sku] = decimal.Zero
			continue
		}
		levels[sku] = item.Quantity
	}
	return levels, nil
}

func (s *Store) ListStockItems(_ context.Context) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.StockItem, 0, len(s.stock))
	for _, item := range s.stock {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.StockItem) int { return cmp.Compare(a.SKU, b.SKU) })
	return items, nil
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) error {
	if strings.TrimSpace(account.ID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return store.ErrInvalidTransaction
	}
	s.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	out := cloneAccount(account)
	return &out, nil
}

func (s *Store) ListAccounts(_ context.Context, kind domain.AccountKind) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if kind != "" && a.Kind != kind {
			continue
		}
		out = append(out, cloneAccount(a))
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneEntry(entry)
	return &out, nil
}

func (s *Store) ListEntries(_ context.Context, accountID string, q domain.HistoryQuery) ([]domain.LedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, 0, store.ErrAccountNotFound
	}

	ids := s.entriesByAccount[accountID]
	matched := make([]domain.LedgerEntry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		entry := s.entries[ids[i]]
		if !q.From.IsZero() && entry.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !entry.CreatedAt.Before(q.To) {
			continue
		}
		matched = append(matched, entry)
	}

	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start >= total || start < 0 {
		return []domain.LedgerEntry{}, total, nil
	}
	end := min(start+q.Limit, total)
	page := make([]domain.LedgerEntry, 0, end-start)
	for _, entry := range matched[start:end] {
		page = append(page, cloneEntry(entry))
	}
	return page, total, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.PurchaseInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrPurchaseNotFound
	}
	out := clonePurchase(purchase)
	return &out, nil
}

func (s *Store) ListPurchasePayments(_ context.Context, purchaseID string) ([]domain.PurchasePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.purchases[purchaseID]; !ok {
		return nil, store.ErrPurchaseNotFound
	}
	return slices.Clone(s.paymentsByPurchase[purchaseID]), nil
}

func (s *Store) FindTransactionByDocument(_ context.Context, documentNumber string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transactionsByDoc[documentNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.committedByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneRecord(s.transactionsByDoc[doc])
	return &out, nil
}

func (s *Store) SaveTransaction(_ context.Context, rec domain.TransactionRecord) error {
	if rec.DocumentNumber == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactionsByDoc[rec.DocumentNumber]; exists {
		return store.ErrInvalidTransaction
	}
	s.transactionsByDoc[rec.DocumentNumber] = cloneRecord(rec)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidTransaction
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return cmp.Compare(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneAccount(src domain.Account) domain.Account {
	out := src
	out.DueCounts = domain.CloneCounts(src.DueCounts)
	return out
}

func cloneEntry(src domain.LedgerEntry) domain.LedgerEntry {
	out := src
	out.UnitDeltas = domain.CloneCounts(src.UnitDeltas)
	out.DueAfter = domain.CloneCounts(src.DueAfter)
	if src.VoidedAt != nil {
		at := *src.VoidedAt
		out.VoidedAt = &at
	}
	return out
}

func clonePurchase(src domain.PurchaseInvoice) domain.PurchaseInvoice {
	out := src
	out.Lines = slices.Clone(src.Lines)
	return out
}

func cloneRecord(src domain.TransactionRecord) domain.TransactionRecord {
	out := src
	out.Movements = slices.Clone(src.Movements)
	return out
}
