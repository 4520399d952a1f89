package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/folio/internal/invoice/repository"
	"github.com/smallbiznis/folio/internal/migration"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/internal/payment/recorder"
	paymentrepo "github.com/smallbiznis/folio/internal/payment/repository"
	paymentservice "github.com/smallbiznis/folio/internal/payment/service"
	"github.com/smallbiznis/folio/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ledgerTime = time.Date(2024, time.April, 2, 14, 0, 0, 0, time.UTC)

type harness struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  paymentdomain.Service
}

type harnessOption func(*paymentservice.Params)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	repo := paymentrepo.Provide()
	params := paymentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(ledgerTime),
		Invoices:  invoicerepo.Provide(),
		Repo:      repo,
		Recorder:  recorder.NewDirectRecorder(db, repo),
		Invoicing: config.NewStaticInvoicingConfigHolder(config.DefaultInvoicingConfig()),
	}
	for _, opt := range opts {
		opt(&params)
	}
	return &harness{db: db, node: node, svc: paymentservice.NewService(params)}
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (h *harness) seedInvoice(t *testing.T, total string) snowflake.ID {
	t.Helper()

	id := h.node.Generate()
	invoice := invoicedomain.Invoice{
		ID:              id,
		BookingID:       int64(id),
		InvoiceNumber:   "INV-" + id.String(),
		TotalAmount:     amount(total),
		PaidAmount:      decimal.Zero,
		RemainingAmount: amount(total),
		PaymentStatus:   invoicedomain.PaymentStatusPending,
		CreatedAt:       ledgerTime,
		UpdatedAt:       ledgerTime,
	}
	if err := h.db.Create(&invoice).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return id
}

func (h *harness) loadInvoice(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()

	inv, err := invoicerepo.Provide().FindByID(context.Background(), h.db, id)
	if err != nil || inv == nil {
		t.Fatalf("load invoice %s: %v", id, err)
	}
	return *inv
}

func TestApplyDepositScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invoiceID := h.seedInvoice(t, "1000000")

	first, err := h.svc.ApplyDeposit(ctx, invoiceID, amount("400000"), "Cash")
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Empty(t, first.Warning)
	assert.True(t, amount("400000").Equal(first.NewPaidAmount))
	assert.True(t, amount("600000").Equal(first.NewRemainingAmount))
	assert.Equal(t, invoicedomain.PaymentStatusPartial, first.NewPaymentStatus)
	assert.Contains(t, first.TransactionRef, "DEP-")

	second, err := h.svc.ApplyDeposit(ctx, invoiceID, amount("700000"), "Card", paymentdomain.WithTransactionRef("TERM-42"))
	require.NoError(t, err)
	assert.True(t, amount("1100000").Equal(second.NewPaidAmount))
	assert.True(t, second.NewRemainingAmount.IsZero())
	assert.Equal(t, invoicedomain.PaymentStatusPaid, second.NewPaymentStatus)
	assert.Equal(t, "TERM-42", second.TransactionRef)

	stored := h.loadInvoice(t, invoiceID)
	assert.True(t, amount("1100000").Equal(stored.PaidAmount))
	assert.True(t, stored.RemainingAmount.IsZero())
	assert.Equal(t, invoicedomain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, int64(2), stored.Version)
	assert.NoError(t, stored.CheckBalance())

	payments, err := h.svc.ListPayments(ctx, invoiceID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "Cash", payments[0].Method)
	assert.Equal(t, paymentdomain.RecordStatusCompleted, payments[0].Status)
	assert.True(t, amount("400000").Equal(payments[0].Amount))
	require.NotNil(t, payments[1].TransactionRef)
	assert.Equal(t, "TERM-42", *payments[1].TransactionRef)
}

func TestApplyDepositValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invoiceID := h.seedInvoice(t, "1000")

	cases := []struct {
		name   string
		id     snowflake.ID
		amount decimal.Decimal
		method string
		want   error
	}{
		{name: "zero_amount", id: invoiceID, amount: decimal.Zero, method: "Cash", want: paymentdomain.ErrInvalidAmount},
		{name: "negative_amount", id: invoiceID, amount: amount("-10"), method: "Cash", want: paymentdomain.ErrInvalidAmount},
		{name: "below_money_scale", id: invoiceID, amount: amount("0.001"), method: "Cash", want: paymentdomain.ErrInvalidAmount},
		{name: "would_round_up", id: invoiceID, amount: amount("0.005"), method: "Cash", want: paymentdomain.ErrInvalidAmount},
		{name: "extra_precision", id: invoiceID, amount: amount("10.004"), method: "Cash", want: paymentdomain.ErrInvalidAmount},
		{name: "blank_method", id: invoiceID, amount: amount("10"), method: "  ", want: paymentdomain.ErrInvalidMethod},
		{name: "method_too_long", id: invoiceID, amount: amount("10"), method: strings.Repeat("m", paymentdomain.MaxMethodLength+1), want: paymentdomain.ErrInvalidMethod},
		{name: "missing_invoice_id", id: 0, amount: amount("10"), method: "Cash", want: invoicedomain.ErrInvalidInvoiceID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.ApplyDeposit(ctx, tc.id, tc.amount, tc.method)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}

	stored := h.loadInvoice(t, invoiceID)
	assert.True(t, stored.PaidAmount.IsZero())
}

func TestApplyDepositInvoiceNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ApplyDeposit(context.Background(), snowflake.ID(424242), amount("10"), "Cash")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestApplyDepositConcurrentDepositsAreNotLost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invoiceID := h.seedInvoice(t, "1000000")

	const deposits = 10
	var wg sync.WaitGroup
	for i := 0; i < deposits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ApplyDeposit(ctx, invoiceID, amount("50000"), "Cash"); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	stored := h.loadInvoice(t, invoiceID)
	assert.True(t, amount("500000").Equal(stored.PaidAmount), "paid %s", stored.PaidAmount)
	assert.True(t, amount("500000").Equal(stored.RemainingAmount))
	assert.Equal(t, invoicedomain.PaymentStatusPartial, stored.PaymentStatus)
}

// racingInvoiceRepo simulates another writer bumping the invoice version
// between the read and the guarded update.
type racingInvoiceRepo struct {
	invoicedomain.Repository
	races int
}

func (r *racingInvoiceRepo) UpdateLedger(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, state invoicedomain.LedgerState, updatedAt time.Time) (bool, error) {
	if r.races > 0 {
		r.races--
		if err := db.Exec(`UPDATE invoices SET version = version + 1 WHERE id = ?`, id).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.UpdateLedger(ctx, db, id, expectedVersion, state, updatedAt)
}

func TestApplyDepositRetriesAfterVersionConflict(t *testing.T) {
	racing := &racingInvoiceRepo{Repository: invoicerepo.Provide(), races: 2}
	h := newHarness(t, func(p *paymentservice.Params) { p.Invoices = racing })
	invoiceID := h.seedInvoice(t, "100")

	update, err := h.svc.ApplyDeposit(context.Background(), invoiceID, amount("40"), "Cash")
	require.NoError(t, err)
	assert.True(t, amount("40").Equal(update.NewPaidAmount))
	assert.Equal(t, 0, racing.races)
}

func TestApplyDepositGivesUpAfterRetryBudget(t *testing.T) {
	racing := &racingInvoiceRepo{Repository: invoicerepo.Provide(), races: 100}
	h := newHarness(t, func(p *paymentservice.Params) {
		p.Invoices = racing
		cfg := config.DefaultInvoicingConfig()
		cfg.DepositRetryAttempts = 3
		p.Invoicing = config.NewStaticInvoicingConfigHolder(cfg)
	})
	invoiceID := h.seedInvoice(t, "100")

	_, err := h.svc.ApplyDeposit(context.Background(), invoiceID, amount("40"), "Cash")
	assert.ErrorIs(t, err, paymentdomain.ErrDepositConflict)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, 97, racing.races)

	stored := h.loadInvoice(t, invoiceID)
	assert.True(t, stored.PaidAmount.IsZero())
}

type failingRecorder struct{}

func (failingRecorder) Name() string { return "failing" }

func (failingRecorder) Record(ctx context.Context, payment paymentdomain.Payment) error {
	return errors.New("audit store offline")
}

func TestApplyDepositAuditFailureIsWarningOnly(t *testing.T) {
	h := newHarness(t, func(p *paymentservice.Params) { p.Recorder = failingRecorder{} })
	invoiceID := h.seedInvoice(t, "1000")

	update, err := h.svc.ApplyDeposit(context.Background(), invoiceID, amount("250"), "Cash")
	require.NoError(t, err)
	assert.True(t, update.Success)
	assert.Contains(t, update.Warning, "audit store offline")

	stored := h.loadInvoice(t, invoiceID)
	assert.True(t, amount("250").Equal(stored.PaidAmount))

	payments, err := h.svc.ListPayments(context.Background(), invoiceID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestSetPaymentStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invoiceID := h.seedInvoice(t, "1000")

	require.NoError(t, h.svc.SetPaymentStatus(ctx, invoiceID, invoicedomain.PaymentStatusCancelled))
	stored := h.loadInvoice(t, invoiceID)
	assert.Equal(t, invoicedomain.PaymentStatusCancelled, stored.PaymentStatus)
	assert.True(t, stored.PaidAmount.IsZero())
	assert.True(t, amount("1000").Equal(stored.RemainingAmount))

	err := h.svc.SetPaymentStatus(ctx, invoiceID, invoicedomain.PaymentStatus("SETTLED"))
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPaymentStatus)

	err = h.svc.SetPaymentStatus(ctx, snowflake.ID(777), invoicedomain.PaymentStatusPaid)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestApplyDepositRecomputesOverAdministrativeStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invoiceID := h.seedInvoice(t, "1000")

	require.NoError(t, h.svc.SetPaymentStatus(ctx, invoiceID, invoicedomain.PaymentStatusCancelled))

	update, err := h.svc.ApplyDeposit(ctx, invoiceID, amount("100"), "Cash")
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PaymentStatusPartial, update.NewPaymentStatus)

	payments, err := h.svc.ListPayments(ctx, invoiceID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, string(invoicedomain.PaymentStatusCancelled), payments[0].Metadata["previous_status"])
}

func TestCorrectPaymentRecordStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	invoiceID := h.seedInvoice(t, "1000")

	_, err := h.svc.ApplyDeposit(ctx, invoiceID, amount("100"), "Card")
	require.NoError(t, err)
	payments, err := h.svc.ListPayments(ctx, invoiceID)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	require.NoError(t, h.svc.CorrectPaymentRecordStatus(ctx, payments[0].ID, paymentdomain.RecordStatusRefund))

	payments, err = h.svc.ListPayments(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RecordStatusRefund, payments[0].Status)
	assert.True(t, amount("100").Equal(payments[0].Amount))

	err = h.svc.CorrectPaymentRecordStatus(ctx, payments[0].ID, paymentdomain.RecordStatus("LOST"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRecordStatus)

	err = h.svc.CorrectPaymentRecordStatus(ctx, snowflake.ID(5), paymentdomain.RecordStatusFailed)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestListPaymentsUnknownInvoice(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ListPayments(context.Background(), snowflake.ID(1))
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}
