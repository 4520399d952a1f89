package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/internal/clock"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/format"
	"github.com/smallbiznis/folio/internal/invoice/pricing"
	"github.com/smallbiznis/folio/internal/lock"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	"github.com/smallbiznis/folio/pkg/apperror"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      invoicedomain.Repository
	Invoicing *config.InvoicingConfigHolder

	Lock    *lock.BookingLock            `optional:"true"`
	Metrics *obsmetrics.InvoicingMetrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo      invoicedomain.Repository
	invoicing *config.InvoicingConfigHolder
	lock      *lock.BookingLock
	metrics   *obsmetrics.InvoicingMetrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.builder"),
		genID: p.GenID,
		clock: c,

		repo:      p.Repo,
		invoicing: p.Invoicing,
		lock:      p.Lock,
		metrics:   p.Metrics,
	}
}

func (s *Service) BuildInvoice(ctx context.Context, snapshot invoicedomain.BookingSnapshot) (invoicedomain.BuildResult, error) {
	if err := validateSnapshot(snapshot); err != nil {
		s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
		return failedResult(err), err
	}

	cfg := s.invoicing.Get()
	quote, err := pricing.NewCalculator(cfg.MoneyScale).Quote(snapshot)
	if err != nil {
		s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
		return failedResult(err), err
	}

	release, _, err := s.lock.Acquire(ctx, snapshot.BookingID)
	if err != nil {
		// The unique booking index still decides the winner without the lock.
		s.log.Warn("build lock unavailable",
			zap.Int64("booking_id", snapshot.BookingID),
			zap.Error(err),
		)
	}
	defer release()

	existing, err := s.repo.FindByBookingID(ctx, s.db, snapshot.BookingID)
	if err != nil {
		err = apperror.Transaction(err)
		s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
		return failedResult(err), err
	}
	if existing != nil {
		return s.existingResult(ctx, *existing)
	}

	now := s.clock.Now()
	number, err := format.FormatInvoiceNumber(cfg.InvoiceNumberTemplate, now, snapshot.BookingID)
	if err != nil {
		err = fmt.Errorf("%w: %v", invoicedomain.ErrInvalidSnapshot, err)
		s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
		return failedResult(err), err
	}

	invoice := invoicedomain.Invoice{
		ID:              s.genID.Generate(),
		BookingID:       snapshot.BookingID,
		InvoiceNumber:   number,
		TotalAmount:     decimal.Zero,
		PaidAmount:      decimal.Zero,
		RemainingAmount: decimal.Zero,
		PaymentStatus:   invoicedomain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	items := make([]invoicedomain.LineItem, len(quote.Lines))
	for i, line := range quote.Lines {
		line.ID = s.genID.Generate()
		line.InvoiceID = invoice.ID
		line.CreatedAt = now
		items[i] = line
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, &invoice)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := s.repo.InsertLineItems(ctx, tx, items); err != nil {
			return err
		}
		if err := s.repo.UpdateTotals(ctx, tx, invoice.ID, quote.Total, now); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		err = apperror.Transaction(err)
		s.log.Error("invoice build rolled back",
			zap.Int64("booking_id", snapshot.BookingID),
			zap.Error(err),
		)
		s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
		return failedResult(err), err
	}

	if !created {
		// Another builder committed first between our lookup and insert.
		winner, err := s.repo.FindByBookingID(ctx, s.db, snapshot.BookingID)
		if err != nil {
			err = apperror.Transaction(err)
			s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
			return failedResult(err), err
		}
		if winner == nil {
			err = apperror.Transaction(fmt.Errorf("invoice for booking %d vanished after conflict", snapshot.BookingID))
			s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
			return failedResult(err), err
		}
		return s.existingResult(ctx, *winner)
	}

	invoice.TotalAmount = quote.Total
	invoice.RemainingAmount = quote.Total
	invoice.LineItems = items

	s.metrics.RecordBuild(obsmetrics.ResultCreated, len(items), nil)
	s.log.Info("invoice built",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int64("booking_id", invoice.BookingID),
		zap.String("total_amount", invoice.TotalAmount.String()),
		zap.Int("items_created", len(items)),
		zap.Bool("promotion_applied", quote.PromotionApplied),
	)

	return invoicedomain.BuildResult{
		Success:          true,
		InvoiceID:        invoice.ID,
		InvoiceNumber:    invoice.InvoiceNumber,
		TotalAmount:      invoice.TotalAmount,
		ItemsCreated:     len(items),
		PromotionApplied: quote.PromotionApplied,
		DiscountTotal:    quote.DiscountTotal,
		Message:          "invoice created",
		Invoice:          invoice,
	}, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID snowflake.ID) (invoicedomain.Invoice, error) {
	if invoiceID <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, apperror.Transaction(err)
	}
	if invoice == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return s.withLineItems(ctx, *invoice)
}

func (s *Service) GetInvoiceByBooking(ctx context.Context, bookingID int64) (invoicedomain.Invoice, error) {
	if bookingID <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidBookingID
	}
	invoice, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return invoicedomain.Invoice{}, apperror.Transaction(err)
	}
	if invoice == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return s.withLineItems(ctx, *invoice)
}

func (s *Service) existingResult(ctx context.Context, invoice invoicedomain.Invoice) (invoicedomain.BuildResult, error) {
	invoice, err := s.withLineItems(ctx, invoice)
	if err != nil {
		s.metrics.RecordBuild(obsmetrics.ResultFailed, 0, err)
		return failedResult(err), err
	}

	discountTotal := decimal.Zero
	promotionApplied := false
	for _, item := range invoice.LineItems {
		if item.ItemType.IsReduction() {
			promotionApplied = true
			discountTotal = discountTotal.Add(item.UnitPrice)
		}
	}

	s.metrics.RecordBuild(obsmetrics.ResultExisting, 0, nil)
	s.log.Debug("invoice already exists",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int64("booking_id", invoice.BookingID),
	)

	return invoicedomain.BuildResult{
		Success:          true,
		InvoiceID:        invoice.ID,
		InvoiceNumber:    invoice.InvoiceNumber,
		TotalAmount:      invoice.TotalAmount,
		IsExisting:       true,
		PromotionApplied: promotionApplied,
		DiscountTotal:    discountTotal,
		Message:          "invoice already exists for booking",
		Invoice:          invoice,
	}, nil
}

func (s *Service) withLineItems(ctx context.Context, invoice invoicedomain.Invoice) (invoicedomain.Invoice, error) {
	items, err := s.repo.ListLineItems(ctx, s.db, invoice.ID)
	if err != nil {
		return invoicedomain.Invoice{}, apperror.Transaction(err)
	}
	invoice.LineItems = items
	return invoice, nil
}

func failedResult(err error) invoicedomain.BuildResult {
	return invoicedomain.BuildResult{
		Success:       false,
		TotalAmount:   decimal.Zero,
		DiscountTotal: decimal.Zero,
		Message:       err.Error(),
	}
}
