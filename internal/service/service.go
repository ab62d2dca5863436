package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/inventory"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/ledger"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/metrics"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/sequence"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return actor, nil
}

type Service struct {
	store     store.Store
	allocator *sequence.Allocator
	inventory *inventory.Ledger
	checker   *inventory.Checker
	ledger    *ledger.Ledger
	metrics   *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New wires the coordinator over st. The allocator may use a different counter
// store than st, e.g. redis.
func New(st store.Store, allocator *sequence.Allocator, opts ...Option) *Service {
	s := &Service{
		store:     st,
		allocator: allocator,
		inventory: inventory.NewLedger(st),
		checker:   inventory.NewChecker(st),
		ledger:    ledger.New(st),
		logger:    zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.Account, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Account{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.ID = strings.TrimSpace(req.ID)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.Name == "" || !req.Kind.Valid() {
		return domain.Account{}, store.ErrInvalidTransaction
	}
	if req.Kind == domain.AccountCustomer {
		req.Category = ""
	}
	if req.ID == "" {
		prefix := "cust"
		if req.Kind == domain.AccountVendor {
			prefix = "vend"
		}
		req.ID = xid.New(prefix)
	}

	now := s.now()
	account := domain.Account{
		ID:        req.ID,
		Kind:      req.Kind,
		Name:      req.Name,
		Category:  req.Category,
		Balance:   decimal.Zero,
		DueCounts: map[string]int64{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return domain.Account{}, err
	}

	s.logAudit(ctx, "account_create", "account", account.ID, fmt.Sprintf("kind=%s,name=%s,category=%s", account.Kind, account.Name, account.Category))
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Account{}, store.ErrInvalidTransaction
	}
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	return *account, nil
}

func (s *Service) ListAccounts(ctx context.Context, kind domain.AccountKind) ([]domain.Account, error) {
	if kind != "" && !kind.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	return s.store.ListAccounts(ctx, kind)
}

func (s *Service) AccountHistory(ctx context.Context, accountID string, q domain.HistoryQuery) (domain.HistoryPage, error) {
	return s.ledger.History(ctx, accountID, q)
}

// VoidEntry is restricted to admins. Manager PIN verification happens at the
// HTTP boundary before this is called.
func (s *Service) VoidEntry(ctx context.Context, req domain.VoidEntryRequest) (domain.VoidEntryResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.VoidEntryResponse{}, err
	}

	out, err := s.ledger.Void(ctx, req.EntryID, req.Reason)
	if err != nil {
		return domain.VoidEntryResponse{}, err
	}

	s.logAudit(ctx, "ledger_void", "ledger_entry", out.Entry.ID, fmt.Sprintf("account=%s,reason=%s,balance=%s", out.Account.ID, out.Entry.VoidReason, out.Account.Balance))
	return out, nil
}

func (s *Service) ReconcileAccount(ctx context.Context, accountID string, repair bool) (domain.ReconcileReport, error) {
	if repair {
		if _, err := requireAdmin(ctx); err != nil {
			return domain.ReconcileReport{}, err
		}
	}

	report, err := s.ledger.Reconcile(ctx, strings.TrimSpace(accountID), repair)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	if report.Drift {
		s.logger.Warn().
			Str("account", report.AccountID).
			Str("cached_balance", report.CachedBalance.String()).
			Str("folded_balance", report.FoldedBalance.String()).
			Bool("repaired", report.Repaired).
			Msg("account drift detected")
	}
	if report.Repaired {
		s.logAudit(ctx, "account_reconcile", "account", report.AccountID, fmt.Sprintf("balance=%s", report.FoldedBalance))
	}
	return report, nil
}

// ReconcileAll checks every account and returns the reports that drifted.
func (s *Service) ReconcileAll(ctx context.Context, repair bool) ([]domain.ReconcileReport, error) {
	accounts, err := s.store.ListAccounts(ctx, "")
	if err != nil {
		return nil, err
	}
	drifted := make([]domain.ReconcileReport, 0)
	for _, account := range accounts {
		report, err := s.ReconcileAccount(ctx, account.ID, repair)
		if err != nil {
			return drifted, fmt.Errorf("reconcile %s: %w", account.ID, err)
		}
		if report.Drift {
			drifted = append(drifted, report)
		}
	}
	return drifted, nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.StockItem, error) {
	return s.inventory.List(ctx)
}

func (s *Service) CheckAvailability(ctx context.Context, requests []domain.AvailabilityRequest) (domain.AvailabilityReport, error) {
	normalized := make([]domain.AvailabilityRequest, 0, len(requests))
	for _, req := range requests {
		sku, ok := domain.ParseSKU(string(req.SKU))
		if !ok {
			return domain.AvailabilityReport{}, fmt.Errorf("%w: malformed sku %q", store.ErrInvalidTransaction, req.SKU)
		}
		normalized = append(normalized, domain.AvailabilityRequest{SKU: sku, Requested: req.Requested})
	}
	return s.checker.Check(ctx, normalized)
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (domain.StockItem, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockItem{}, err
	}
	sku, ok := domain.ParseSKU(string(req.SKU))
	if !ok {
		return domain.StockItem{}, fmt.Errorf("%w: malformed sku %q", store.ErrInvalidTransaction, req.SKU)
	}
	req.SKU = sku

	item, err := s.inventory.Receive(ctx, req)
	if err != nil {
		return domain.StockItem{}, err
	}
	s.logAudit(ctx, "stock_receive", "stock_item", string(item.SKU), fmt.Sprintf("qty=%s,unit_cost=%s,on_hand=%s", req.Quantity, req.UnitCost, item.Quantity))
	return item, nil
}

func (s *Service) CylinderPopulation(ctx context.Context, cylinderType string) (domain.CylinderPopulation, error) {
	return s.inventory.Population(ctx, cylinderType)
}

type SequenceStatus struct {
	Kind     string `json:"kind"`
	Prefix   string `json:"prefix"`
	Day      string `json:"day"`
	LastSeq  int64  `json:"last_seq"`
	Next     string `json:"next"`
	Fallback bool   `json:"fallback"`
}

// SequenceStatus reports the last number issued for kind on day without
// consuming one.
func (s *Service) SequenceStatus(ctx context.Context, kind string, day string) (SequenceStatus, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return SequenceStatus{}, err
	}
	if day == "" {
		day = s.allocator.Day(s.now())
	}
	prefix, seq, err := s.allocator.Current(ctx, kind, day)
	if err != nil {
		return SequenceStatus{}, err
	}
	return SequenceStatus{
		Kind:     kind,
		Prefix:   prefix,
		Day:      day,
		LastSeq:  seq,
		Next:     sequence.Format(prefix, day, seq+1),
		Fallback: !sequence.KnownCategory(kind),
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.store.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)
	if err := s.store.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
