package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatusTransitions(t *testing.T) {
	assert.True(t, TxPending.CanTransition(TxValidating))
	assert.True(t, TxValidating.CanTransition(TxRejected))
	assert.True(t, TxValidating.CanTransition(TxCommitting))
	assert.True(t, TxCommitting.CanTransition(TxCommitted))
	assert.True(t, TxCommitting.CanTransition(TxFailed))

	assert.False(t, TxPending.CanTransition(TxCommitted))
	assert.False(t, TxRejected.CanTransition(TxCommitting))
	assert.False(t, TxCommitted.CanTransition(TxFailed))
	assert.False(t, TxFailed.CanTransition(TxCommitted))

	for _, s := range []TransactionStatus{TxRejected, TxCommitted, TxFailed} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, TxCommitting.Terminal())
}

func TestPurchasePaymentsSettleInvoice(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	inv := PurchaseInvoice{Total: decimal.RequireFromString("10000")}
	inv.BalanceAmount, inv.PaymentStatus = DerivePaymentState(inv.Total, inv.PaidAmount)
	require.Equal(t, PaymentUnpaid, inv.PaymentStatus)

	inv = inv.WithPayment(decimal.RequireFromString("2500.50"), now)
	assert.Equal(t, PaymentPartial, inv.PaymentStatus)
	assert.True(t, inv.BalanceAmount.Equal(decimal.RequireFromString("7499.50")))

	inv = inv.WithPayment(decimal.RequireFromString("7499.50"), now)
	assert.Equal(t, PaymentPaid, inv.PaymentStatus)
	assert.True(t, inv.BalanceAmount.IsZero())
	assert.True(t, inv.PaidAmount.Equal(inv.Total))
}

func TestPurchaseOverpaymentKeepsNegativeBalance(t *testing.T) {
	inv := PurchaseInvoice{Total: decimal.NewFromInt(500)}
	inv = inv.WithPayment(decimal.NewFromInt(650), time.Now())

	assert.Equal(t, PaymentPaid, inv.PaymentStatus)
	assert.True(t, inv.BalanceAmount.Equal(decimal.NewFromInt(-150)), inv.BalanceAmount.String())
}

func TestSKUKeys(t *testing.T) {
	assert.Equal(t, SKUKey("15KG/FILLED"), CylinderSKU(" 15kg ", CylinderFilled))
	assert.Equal(t, SKUKey("ACC/GAS_PIPE"), AccessorySKU("gas pipe"))
	assert.Equal(t, SKUKey("GAS/LPG"), GasSKU("lpg"))

	key, ok := ParseSKU("45kg/with_customer")
	require.True(t, ok)
	assert.Equal(t, SKUKey("45KG/WITH_CUSTOMER"), key)
	assert.True(t, key.IsCylinder())
	assert.Equal(t, "45KG", key.Family())

	_, ok = ParseSKU("nofamily")
	assert.False(t, ok)
	_, ok = ParseSKU("/FILLED")
	assert.False(t, ok)

	assert.False(t, AccessorySKU("regulator").IsCylinder())
}

func TestCountsEqualTreatsMissingAsZero(t *testing.T) {
	assert.True(t, CountsEqual(map[string]int64{"15KG": 0}, nil))
	assert.False(t, CountsEqual(map[string]int64{"15KG": 1}, map[string]int64{}))
	assert.Equal(t, map[string]int64{"45KG": 2}, CloneCounts(map[string]int64{"15KG": 0, "45KG": 2}))
}
