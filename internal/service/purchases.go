package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/xid"
)

// CreatePurchase books a vendor invoice: it numbers the invoice under the
// category prefix, receives every line into stock and stores the invoice as
// UNPAID in one storage transaction.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.PurchaseInvoice, error) {
	actor := actorOrSystem(ctx)
	req.VendorID = strings.TrimSpace(req.VendorID)
	if req.VendorID == "" || len(req.Lines) == 0 {
		return domain.PurchaseInvoice{}, store.ErrInvalidTransaction
	}

	vendor, err := s.store.GetAccount(ctx, req.VendorID)
	if err != nil {
		return domain.PurchaseInvoice{}, err
	}
	if vendor.Kind != domain.AccountVendor {
		return domain.PurchaseInvoice{}, fmt.Errorf("%w: account %s is not a vendor", store.ErrInvalidTransaction, vendor.ID)
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = vendor.Category
	}

	lines := make([]domain.PurchaseLine, 0, len(req.Lines))
	total := decimal.Zero
	for _, line := range req.Lines {
		sku, ok := domain.ParseSKU(string(line.SKU))
		if !ok {
			return domain.PurchaseInvoice{}, fmt.Errorf("%w: malformed sku %q", store.ErrInvalidTransaction, line.SKU)
		}
		if !line.Quantity.IsPositive() || line.UnitCost.IsNegative() {
			return domain.PurchaseInvoice{}, store.ErrInvalidAmount
		}
		line.SKU = sku
		lines = append(lines, line)
		total = total.Add(line.Amount())
	}
	if !total.IsPositive() {
		return domain.PurchaseInvoice{}, store.ErrInvalidAmount
	}

	doc, err := s.allocator.Next(ctx, category)
	if err != nil {
		return domain.PurchaseInvoice{}, err
	}

	now := s.now()
	balance, status := domain.DerivePaymentState(total, decimal.Zero)
	invoice := domain.PurchaseInvoice{
		ID:             xid.New("pur"),
		DocumentNumber: doc,
		VendorID:       vendor.ID,
		Category:       category,
		Lines:          lines,
		Total:          total,
		PaidAmount:     decimal.Zero,
		BalanceAmount:  balance,
		PaymentStatus:  status,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedBy:      actor.Username,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		for _, line := range receiptOrder(lines) {
			if _, err := s.inventory.ReceiveTx(ctx, tx, domain.StockReceiveRequest{SKU: line.SKU, Quantity: line.Quantity, UnitCost: line.UnitCost}); err != nil {
				return fmt.Errorf("receive %s: %w", line.SKU, err)
			}
		}
		return tx.InsertPurchase(ctx, invoice)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("document", doc).Str("vendor", vendor.ID).Msg("purchase failed after number allocation")
		return domain.PurchaseInvoice{}, err
	}

	s.logAudit(ctx, "purchase_create", "purchase", invoice.ID, fmt.Sprintf("document=%s,vendor=%s,total=%s", doc, vendor.ID, total))
	return invoice, nil
}

// receiptOrder returns the lines sorted by SKU, keeping request order within a
// SKU. Stock rows are locked in this order so two invoices naming the same SKUs
// in opposite order cannot deadlock.
func receiptOrder(lines []domain.PurchaseLine) []domain.PurchaseLine {
	out := slices.Clone(lines)
	slices.SortStableFunc(out, func(a, b domain.PurchaseLine) int { return cmp.Compare(a.SKU, b.SKU) })
	return out
}

// RecordPurchasePayment applies a payment against a vendor invoice. Paid
// amount, balance and status are re-derived together under the invoice row
// lock, so concurrent payments never lose an update.
func (s *Service) RecordPurchasePayment(ctx context.Context, purchaseID string, req domain.PurchasePaymentRequest) (domain.PurchaseDetail, error) {
	actor := actorOrSystem(ctx)
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return domain.PurchaseDetail{}, store.ErrInvalidTransaction
	}
	if !req.Amount.IsPositive() {
		return domain.PurchaseDetail{}, store.ErrInvalidAmount
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = "cash"
	}

	var updated domain.PurchaseInvoice
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		now := s.now()
		updated = current.WithPayment(req.Amount, now)
		if err := tx.UpdatePurchasePayment(ctx, updated); err != nil {
			return err
		}
		return tx.InsertPurchasePayment(ctx, domain.PurchasePayment{
			ID:         xid.New("pay"),
			PurchaseID: purchaseID,
			Amount:     req.Amount,
			Method:     method,
			RecordedBy: actor.Username,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.PurchaseDetail{}, err
	}

	s.metrics.ObservePurchasePayment(string(updated.PaymentStatus))
	s.logAudit(ctx, "purchase_payment", "purchase", purchaseID, fmt.Sprintf("amount=%s,method=%s,status=%s,balance=%s", req.Amount, method, updated.PaymentStatus, updated.BalanceAmount))

	payments, err := s.store.ListPurchasePayments(ctx, purchaseID)
	if err != nil {
		return domain.PurchaseDetail{}, err
	}
	return domain.PurchaseDetail{Purchase: updated, Payments: payments}, nil
}

func (s *Service) GetPurchase(ctx context.Context, purchaseID string) (domain.PurchaseDetail, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return domain.PurchaseDetail{}, store.ErrInvalidTransaction
	}
	purchase, err := s.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return domain.PurchaseDetail{}, err
	}
	payments, err := s.store.ListPurchasePayments(ctx, purchaseID)
	if err != nil {
		return domain.PurchaseDetail{}, err
	}
	if payments == nil {
		payments = []domain.PurchasePayment{}
	}
	return domain.PurchaseDetail{Purchase: *purchase, Payments: payments}, nil
}
