package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "booking_id"}},
			DoNothing: true,
		}).
		Create(invoice)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertLineItems(ctx context.Context, db *gorm.DB, items []domain.LineItem) error {
	rows := make([]*domain.LineItem, 0, len(items))
	for i := range items {
		rows = append(rows, &items[i])
	}
	return repository.ProvideStore[domain.LineItem](db).BatchCreate(ctx, rows)
}

// A zero key would leave the struct filter empty and match any row.
func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	if id <= 0 {
		return nil, nil
	}
	return repository.ProvideStore[domain.Invoice](db).FindOne(ctx, &domain.Invoice{ID: id})
}

func (r *repo) FindByBookingID(ctx context.Context, db *gorm.DB, bookingID int64) (*domain.Invoice, error) {
	if bookingID <= 0 {
		return nil, nil
	}
	return repository.ProvideStore[domain.Invoice](db).FindOne(ctx, &domain.Invoice{BookingID: bookingID})
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.LineItem, error) {
	rows, err := repository.ProvideStore[domain.LineItem](db).Find(
		ctx,
		&domain.LineItem{InvoiceID: invoiceID},
		repository.WithOrder("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	items := make([]domain.LineItem, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		items = append(items, *row)
	}
	return items, nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, total decimal.Decimal, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET total_amount = ?, paid_amount = ?, remaining_amount = ?, updated_at = ?
		 WHERE id = ?`,
		total,
		decimal.Zero,
		total,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateLedger(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, state domain.LedgerState, updatedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET paid_amount = ?, remaining_amount = ?, payment_status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		state.PaidAmount,
		state.RemainingAmount,
		state.PaymentStatus,
		updatedAt,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, updatedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET payment_status = ?, version = version + 1, updated_at = ?
		 WHERE id = ?`,
		status,
		updatedAt,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
