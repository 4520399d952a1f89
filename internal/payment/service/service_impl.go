package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/pkg/apperror"
	"github.com/smallbiznis/folio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errStaleVersion rolls back an attempt whose invoice row changed underneath it.
var errStaleVersion = errors.New("stale invoice version")

const retryBackoff = 5 * time.Millisecond

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Invoices  invoicedomain.Repository
	Repo      paymentdomain.Repository
	Recorder  paymentdomain.Recorder
	Invoicing *config.InvoicingConfigHolder
	Metrics   *obsmetrics.InvoicingMetrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	invoices  invoicedomain.Repository
	repo      paymentdomain.Repository
	recorder  paymentdomain.Recorder
	invoicing *config.InvoicingConfigHolder
	metrics   *obsmetrics.InvoicingMetrics
}

func NewService(p Params) paymentdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.ledger"),
		genID: p.GenID,
		clock: c,

		invoices:  p.Invoices,
		repo:      p.Repo,
		recorder:  p.Recorder,
		invoicing: p.Invoicing,
		metrics:   p.Metrics,
	}
}

func (s *Service) ApplyDeposit(ctx context.Context, invoiceID snowflake.ID, amount decimal.Decimal, method string, opts ...paymentdomain.DepositOption) (paymentdomain.LedgerUpdate, error) {
	update, err := s.applyDeposit(ctx, invoiceID, amount, method, opts...)
	s.metrics.RecordDeposit(err)
	return update, err
}

func (s *Service) applyDeposit(ctx context.Context, invoiceID snowflake.ID, amount decimal.Decimal, method string, opts ...paymentdomain.DepositOption) (paymentdomain.LedgerUpdate, error) {
	cfg := s.invoicing.Get()

	if invoiceID <= 0 {
		return paymentdomain.LedgerUpdate{}, invoicedomain.ErrInvalidInvoiceID
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(cfg.MoneyScale)) {
		return paymentdomain.LedgerUpdate{}, paymentdomain.ErrInvalidAmount
	}
	method = strings.TrimSpace(method)
	if method == "" || len(method) > paymentdomain.MaxMethodLength {
		return paymentdomain.LedgerUpdate{}, paymentdomain.ErrInvalidMethod
	}
	options := paymentdomain.DepositOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	existing, err := s.invoices.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return paymentdomain.LedgerUpdate{}, apperror.Transaction(err)
	}
	if existing == nil {
		return paymentdomain.LedgerUpdate{}, invoicedomain.ErrInvoiceNotFound
	}

	var (
		state       invoicedomain.LedgerState
		priorStatus invoicedomain.PaymentStatus
		version     int64
		now         time.Time
	)
	attempts := cfg.DepositRetryAttempts
	for attempt := 1; ; attempt++ {
		now = s.clock.Now()
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.invoices.FindByID(ctx, tx, invoiceID)
			if err != nil {
				return err
			}
			if current == nil {
				return invoicedomain.ErrInvoiceNotFound
			}

			newPaid := current.PaidAmount.Add(amount)
			newRemaining := invoicedomain.RemainingFor(current.TotalAmount, newPaid)
			state = invoicedomain.LedgerState{
				PaidAmount:      newPaid,
				RemainingAmount: newRemaining,
				PaymentStatus:   invoicedomain.DeriveStatus(newPaid, newRemaining),
			}
			priorStatus = current.PaymentStatus
			version = current.Version + 1

			ok, err := s.invoices.UpdateLedger(ctx, tx, invoiceID, current.Version, state, now)
			if err != nil {
				return err
			}
			if !ok {
				return errStaleVersion
			}
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
			return paymentdomain.LedgerUpdate{}, err
		}
		if !errors.Is(err, errStaleVersion) && !db.IsRetryableTxErr(err) {
			s.log.Error("deposit rolled back",
				zap.String("invoice_id", invoiceID.String()),
				zap.Error(err),
			)
			return paymentdomain.LedgerUpdate{}, apperror.Transaction(err)
		}
		if attempt >= attempts {
			s.log.Warn("deposit gave up after version conflicts",
				zap.String("invoice_id", invoiceID.String()),
				zap.Int("attempts", attempt),
			)
			return paymentdomain.LedgerUpdate{}, paymentdomain.ErrDepositConflict
		}

		s.metrics.RecordDepositRetry()
		select {
		case <-ctx.Done():
			return paymentdomain.LedgerUpdate{}, apperror.Transaction(ctx.Err())
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	if priorStatus == invoicedomain.PaymentStatusCancelled || priorStatus == invoicedomain.PaymentStatusRefunded {
		s.log.Warn("deposit recomputed status over administrative status",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("previous_status", string(priorStatus)),
			zap.String("new_status", string(state.PaymentStatus)),
		)
	}

	ref := strings.TrimSpace(options.TransactionRef)
	if ref == "" {
		ref = "DEP-" + ulid.Make().String()
	}

	update := paymentdomain.LedgerUpdate{
		Success:            true,
		InvoiceID:          invoiceID,
		DepositAmount:      amount,
		NewPaidAmount:      state.PaidAmount,
		NewRemainingAmount: state.RemainingAmount,
		NewPaymentStatus:   state.PaymentStatus,
		TransactionRef:     ref,
	}

	payment := paymentdomain.Payment{
		ID:             s.genID.Generate(),
		InvoiceID:      invoiceID,
		Method:         method,
		Status:         paymentdomain.RecordStatusCompleted,
		Amount:         amount,
		TransactionRef: &ref,
		RecordedAt:     now,
		Notes:          options.Notes,
		Metadata: datatypes.JSONMap{
			"previous_status": string(priorStatus),
			"new_status":      string(state.PaymentStatus),
			"ledger_version":  version,
		},
	}
	if err := s.recorder.Record(ctx, payment); err != nil {
		s.metrics.RecordAuditAppendFailure(s.recorder.Name())
		s.log.Warn("payment audit record not appended",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.String("recorder", s.recorder.Name()),
			zap.Error(err),
		)
		update.Warning = "deposit applied but payment record was not appended: " + err.Error()
	}

	s.log.Info("deposit applied",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("amount", amount.String()),
		zap.String("method", method),
		zap.String("paid_amount", state.PaidAmount.String()),
		zap.String("payment_status", string(state.PaymentStatus)),
	)
	return update, nil
}

func (s *Service) SetPaymentStatus(ctx context.Context, invoiceID snowflake.ID, status invoicedomain.PaymentStatus) error {
	if invoiceID <= 0 {
		return invoicedomain.ErrInvalidInvoiceID
	}
	if !status.Valid() {
		return invoicedomain.ErrInvalidPaymentStatus
	}

	existing, err := s.invoices.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return apperror.Transaction(err)
	}
	if existing == nil {
		return invoicedomain.ErrInvoiceNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.invoices.UpdatePaymentStatus(ctx, tx, invoiceID, status, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return invoicedomain.ErrInvoiceNotFound
		}
		return nil
	})
	if err != nil {
		return apperror.Transaction(err)
	}

	s.log.Info("payment status overridden",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("previous_status", string(existing.PaymentStatus)),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	if invoiceID <= 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.invoices.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, apperror.Transaction(err)
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	payments, err := s.repo.ListByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, apperror.Transaction(err)
	}
	return payments, nil
}

func (s *Service) CorrectPaymentRecordStatus(ctx context.Context, paymentID snowflake.ID, status paymentdomain.RecordStatus) error {
	if paymentID <= 0 {
		return paymentdomain.ErrInvalidPaymentID
	}
	if !status.Valid() {
		return paymentdomain.ErrInvalidRecordStatus
	}

	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return apperror.Transaction(err)
	}
	if payment == nil {
		return paymentdomain.ErrPaymentNotFound
	}

	ok, err := s.repo.UpdateStatus(ctx, s.db, paymentID, status)
	if err != nil {
		return apperror.Transaction(err)
	}
	if !ok {
		return paymentdomain.ErrPaymentNotFound
	}

	s.log.Info("payment record status corrected",
		zap.String("payment_id", paymentID.String()),
		zap.String("previous_status", string(payment.Status)),
		zap.String("status", string(status)),
	)
	return nil
}
