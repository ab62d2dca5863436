package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/inventory"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/ledger"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
)

// lifecycle walks a transaction through its states and refuses illegal moves.
type lifecycle struct {
	status domain.TransactionStatus
}

func (l *lifecycle) advance(next domain.TransactionStatus) error {
	if !l.status.CanTransition(next) {
		return fmt.Errorf("%w: illegal transition %s -> %s", store.ErrInvalidTransaction, l.status, next)
	}
	l.status = next
	return nil
}

// txPlan is everything a request will do, computed before any write.
type txPlan struct {
	docKind   string
	movements []domain.StockMovement
	money     decimal.Decimal
	units     map[string]int64
}

// demand lists the SKUs the plan draws down.
func (p txPlan) demand() []domain.AvailabilityRequest {
	out := make([]domain.AvailabilityRequest, 0, len(p.movements))
	for _, mv := range inventory.MergeMovements(p.movements) {
		if mv.Delta.IsNegative() {
			out = append(out, domain.AvailabilityRequest{SKU: mv.SKU, Requested: mv.Delta.Neg()})
		}
	}
	return out
}

// SubmitTransaction validates a business transaction, allocates its document
// number and commits stock movements, the ledger entry and the transaction
// record atomically. A rejected request consumes no number. Once a number is
// allocated it stays consumed even when the commit fails; the failure is kept
// as a FAILED record under that number.
func (s *Service) SubmitTransaction(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	actor := actorOrSystem(ctx)
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Kind = domain.EntryKind(strings.ToUpper(strings.TrimSpace(string(req.Kind))))

	if req.IdempotencyKey != "" {
		existing, err := s.store.FindTransactionByIdempotency(ctx, req.IdempotencyKey)
		if err == nil {
			return s.resultFor(ctx, *existing, true), nil
		}
		if !isNotFound(err) {
			return domain.TransactionResult{}, err
		}
	}

	lc := &lifecycle{status: domain.TxPending}
	if err := lc.advance(domain.TxValidating); err != nil {
		return domain.TransactionResult{}, err
	}

	plan, report, err := s.validate(ctx, req, actor)
	if err != nil {
		if advErr := lc.advance(domain.TxRejected); advErr != nil {
			return domain.TransactionResult{}, advErr
		}
		s.metrics.ObserveTransaction(string(req.Kind), string(lc.status))
		s.logger.Info().Err(err).Str("account", req.AccountID).Str("kind", string(req.Kind)).Msg("transaction rejected")
		return domain.TransactionResult{Status: lc.status, Availability: report}, err
	}

	if err := lc.advance(domain.TxCommitting); err != nil {
		return domain.TransactionResult{}, err
	}

	rec := domain.TransactionRecord{
		AccountID:      req.AccountID,
		Kind:           req.Kind,
		Status:         domain.TxCommitted,
		IdempotencyKey: req.IdempotencyKey,
		Movements:      inventory.MergeMovements(plan.movements),
		MonetaryDelta:  plan.money,
		CreatedBy:      actor.Username,
		CreatedAt:      s.now(),
	}

	// The key is checked again under the storage transaction so a retry that
	// raced its original past the first lookup replays it before a number is
	// allocated.
	var (
		entry  domain.LedgerEntry
		replay *domain.TransactionRecord
	)
	started := time.Now()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindCommittedTransaction(ctx, req.IdempotencyKey)
			if err == nil {
				replay = existing
				return nil
			}
			if !isNotFound(err) {
				return err
			}
		}

		doc, err := s.allocator.Next(ctx, plan.docKind)
		if err != nil {
			return err
		}
		rec.DocumentNumber = doc

		if err := s.inventory.ApplyTx(ctx, tx, plan.movements); err != nil {
			return err
		}
		committed, _, err := s.ledger.CommitTx(ctx, tx, ledger.CommitRequest{
			AccountID:      req.AccountID,
			Kind:           req.Kind,
			DocumentNumber: doc,
			MonetaryDelta:  plan.money,
			UnitDeltas:     plan.units,
			Notes:          req.Notes,
			CreatedBy:      actor.Username,
		})
		if err != nil {
			return err
		}
		rec.EntryID = committed.ID
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return err
		}
		entry = committed
		return nil
	})
	s.metrics.ObserveCommit(time.Since(started))

	if replay != nil {
		s.logger.Info().Str("document", replay.DocumentNumber).Str("idempotency_key", req.IdempotencyKey).Msg("retry replayed committed transaction")
		return s.resultFor(ctx, *replay, true), nil
	}
	if err != nil && rec.DocumentNumber == "" {
		_ = lc.advance(domain.TxFailed)
		s.metrics.ObserveTransaction(string(req.Kind), string(lc.status))
		return domain.TransactionResult{Status: lc.status}, err
	}
	if err != nil {
		return s.fail(ctx, lc, rec, err)
	}
	doc := rec.DocumentNumber

	if err := lc.advance(domain.TxCommitted); err != nil {
		return domain.TransactionResult{}, err
	}
	s.metrics.ObserveTransaction(string(req.Kind), string(lc.status))
	s.logAudit(ctx, "transaction_commit", "transaction", doc, fmt.Sprintf("account=%s,kind=%s,amount=%s,skus=%d", req.AccountID, req.Kind, plan.money, len(rec.Movements)))
	s.logger.Info().Str("document", doc).Str("account", req.AccountID).Str("kind", string(req.Kind)).Msg("transaction committed")

	return domain.TransactionResult{
		Status:         lc.status,
		DocumentNumber: doc,
		Entry:          &entry,
		Record:         &rec,
	}, nil
}

// fail records a commit that rolled back. A shortfall found under the row
// lock means another commit drew the stock down after validation.
func (s *Service) fail(ctx context.Context, lc *lifecycle, rec domain.TransactionRecord, cause error) (domain.TransactionResult, error) {
	if advErr := lc.advance(domain.TxFailed); advErr != nil {
		return domain.TransactionResult{}, advErr
	}

	err := cause
	if errors.Is(cause, store.ErrInsufficientStock) && !errors.Is(cause, store.ErrConcurrentModification) {
		err = fmt.Errorf("%w: %w", store.ErrConcurrentModification, cause)
	}

	rec.Status = domain.TxFailed
	rec.EntryID = ""
	rec.FailureReason = err.Error()
	if saveErr := s.store.SaveTransaction(ctx, rec); saveErr != nil {
		s.logger.Error().Err(saveErr).Str("document", rec.DocumentNumber).Msg("failed to record failed transaction")
	}
	s.metrics.ObserveTransaction(string(rec.Kind), string(lc.status))
	s.logger.Warn().Err(err).Str("document", rec.DocumentNumber).Str("account", rec.AccountID).Msg("transaction failed")

	// Whatever the cause, a key that committed meanwhile means this was a
	// retry of that transaction.
	if rec.IdempotencyKey != "" {
		if existing, findErr := s.store.FindTransactionByIdempotency(ctx, rec.IdempotencyKey); findErr == nil {
			return s.resultFor(ctx, *existing, true), nil
		}
	}
	return domain.TransactionResult{Status: lc.status, DocumentNumber: rec.DocumentNumber, Record: &rec}, err
}

// validate loads the account, builds the plan and checks stock. On a stock
// shortfall the availability report is returned alongside the error.
func (s *Service) validate(ctx context.Context, req domain.TransactionRequest, actor domain.Actor) (txPlan, *domain.AvailabilityReport, error) {
	if req.AccountID == "" || !req.Kind.Valid() {
		return txPlan{}, nil, store.ErrInvalidTransaction
	}
	account, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return txPlan{}, nil, err
	}
	plan, err := buildPlan(*account, req, actor)
	if err != nil {
		return txPlan{}, nil, err
	}

	demand := plan.demand()
	if len(demand) == 0 {
		return plan, nil, nil
	}
	report, err := s.checker.Check(ctx, demand)
	if err != nil {
		return txPlan{}, nil, err
	}
	if shortfall := inventory.ShortfallFromReport(report); shortfall != nil {
		return txPlan{}, &report, shortfall
	}
	return plan, &report, nil
}

func buildPlan(account domain.Account, req domain.TransactionRequest, actor domain.Actor) (txPlan, error) {
	plan := txPlan{docKind: domain.CategoryBill, money: decimal.Zero, units: map[string]int64{}}
	// Vendor refills take the purchase category prefix; vendor payments and
	// adjustments are numbered as bills.
	if account.Kind == domain.AccountVendor && req.Kind == domain.EntryRefill {
		plan.docKind = account.Category
	}

	switch req.Kind {
	case domain.EntryPayment:
		if len(req.Items) > 0 || !req.Amount.IsPositive() {
			return txPlan{}, store.ErrInvalidAmount
		}
		plan.money = req.Amount.Neg()
		if account.Kind == domain.AccountVendor {
			plan.money = req.Amount
		}
		return plan, nil

	case domain.EntryAdjustment:
		if actor.Role != domain.RoleAdmin {
			return txPlan{}, fmt.Errorf("%w: adjustments require admin role", store.ErrForbidden)
		}
		if len(req.Items) > 0 {
			return txPlan{}, store.ErrInvalidTransaction
		}
		plan.money = req.Amount
		for category, delta := range req.UnitDeltas {
			if key := domain.NormalizeCategory(category); key != "" && delta != 0 {
				plan.units[key] += delta
			}
		}
		if plan.money.IsZero() && len(domain.CloneCounts(plan.units)) == 0 {
			return txPlan{}, store.ErrInvalidAmount
		}
		return plan, nil
	}

	if len(req.Items) == 0 {
		return txPlan{}, store.ErrInvalidTransaction
	}
	if account.Kind == domain.AccountVendor && req.Kind != domain.EntryRefill {
		return txPlan{}, fmt.Errorf("%w: vendors only take refills", store.ErrInvalidTransaction)
	}

	for _, item := range req.Items {
		line, err := planItem(account.Kind, req.Kind, item)
		if err != nil {
			return txPlan{}, err
		}
		plan.movements = append(plan.movements, line.movements...)
		plan.money = plan.money.Add(line.money)
		for category, delta := range line.units {
			plan.units[category] += delta
		}
	}
	plan.units = domain.CloneCounts(plan.units)
	// Every commit posts a ledger entry, so a line set priced at zero that
	// changes no dues is refused. Free stock goes through ReceiveStock.
	if plan.money.IsZero() && len(plan.units) == 0 {
		return txPlan{}, fmt.Errorf("%w: transaction moves no money and no dues", store.ErrInvalidAmount)
	}
	return plan, nil
}

type itemPlan struct {
	movements []domain.StockMovement
	money     decimal.Decimal
	units     map[string]int64
}

// planItem translates one line into stock movements, a money delta and due
// count changes.
//
//	customer SALE    FILLED -> WITH_CUSTOMER, owes price, due +q
//	customer REFILL  FILLED out, EMPTY in, owes price
//	customer RETURN  WITH_CUSTOMER -> EMPTY, credited price, due -q
//	vendor   REFILL  EMPTY out, FILLED in, company owes price
//
// Accessories only move on SALE and RETURN.
func planItem(accountKind domain.AccountKind, kind domain.EntryKind, item domain.TransactionItem) (itemPlan, error) {
	cylinder := domain.NormalizeCategory(item.CylinderType)
	accessory := strings.TrimSpace(item.Accessory)
	if (cylinder == "") == (accessory == "") {
		return itemPlan{}, fmt.Errorf("%w: item needs exactly one of cylinder_type or accessory", store.ErrInvalidTransaction)
	}
	if item.Quantity < 1 || item.UnitPrice.IsNegative() {
		return itemPlan{}, store.ErrInvalidAmount
	}

	q := decimal.NewFromInt(item.Quantity)
	value := q.Mul(item.UnitPrice)
	mv := func(sku domain.SKUKey, delta decimal.Decimal) domain.StockMovement {
		return domain.StockMovement{SKU: sku, Delta: delta}
	}

	if accessory != "" {
		sku := domain.AccessorySKU(accessory)
		switch kind {
		case domain.EntrySale:
			return itemPlan{movements: []domain.StockMovement{mv(sku, q.Neg())}, money: value}, nil
		case domain.EntryReturn:
			return itemPlan{movements: []domain.StockMovement{mv(sku, q)}, money: value.Neg()}, nil
		}
		return itemPlan{}, fmt.Errorf("%w: accessories cannot be refilled", store.ErrInvalidTransaction)
	}

	filled := domain.CylinderSKU(cylinder, domain.CylinderFilled)
	empty := domain.CylinderSKU(cylinder, domain.CylinderEmpty)
	withCustomer := domain.CylinderSKU(cylinder, domain.CylinderWithCustomer)

	if accountKind == domain.AccountVendor {
		return itemPlan{
			movements: []domain.StockMovement{mv(empty, q.Neg()), mv(filled, q)},
			money:     value.Neg(),
		}, nil
	}

	switch kind {
	case domain.EntrySale:
		return itemPlan{
			movements: []domain.StockMovement{mv(filled, q.Neg()), mv(withCustomer, q)},
			money:     value,
			units:     map[string]int64{cylinder: item.Quantity},
		}, nil
	case domain.EntryRefill:
		return itemPlan{
			movements: []domain.StockMovement{mv(filled, q.Neg()), mv(empty, q)},
			money:     value,
		}, nil
	case domain.EntryReturn:
		return itemPlan{
			movements: []domain.StockMovement{mv(withCustomer, q.Neg()), mv(empty, q)},
			money:     value.Neg(),
			units:     map[string]int64{cylinder: -item.Quantity},
		}, nil
	}
	return itemPlan{}, store.ErrInvalidTransaction
}

// TransactionStatus looks a transaction up by its document number. Callers
// whose request timed out use this to learn the outcome.
func (s *Service) TransactionStatus(ctx context.Context, documentNumber string) (domain.TransactionResult, error) {
	documentNumber = strings.ToUpper(strings.TrimSpace(documentNumber))
	if documentNumber == "" {
		return domain.TransactionResult{}, store.ErrInvalidTransaction
	}
	rec, err := s.store.FindTransactionByDocument(ctx, documentNumber)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return s.resultFor(ctx, *rec, false), nil
}

func (s *Service) LookupByIdempotency(ctx context.Context, key string) (domain.TransactionResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.TransactionResult{}, store.ErrInvalidTransaction
	}
	rec, err := s.store.FindTransactionByIdempotency(ctx, key)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return s.resultFor(ctx, *rec, false), nil
}

func (s *Service) resultFor(ctx context.Context, rec domain.TransactionRecord, duplicate bool) domain.TransactionResult {
	out := domain.TransactionResult{
		Status:         rec.Status,
		DocumentNumber: rec.DocumentNumber,
		Record:         &rec,
		Duplicate:      duplicate,
	}
	if rec.EntryID == "" {
		return out
	}
	entry, err := s.store.GetEntry(ctx, rec.EntryID)
	if err != nil {
		s.logger.Warn().Err(err).Str("document", rec.DocumentNumber).Msg("transaction entry lookup failed")
		return out
	}
	out.Entry = entry
	return out
}
