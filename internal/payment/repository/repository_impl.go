package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/payment/domain"
	"github.com/smallbiznis/folio/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, invoice_id, method, status, amount, transaction_ref,
			recorded_at, retry_count, notes, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.InvoiceID,
		payment.Method,
		payment.Status,
		payment.Amount,
		payment.TransactionRef,
		payment.RecordedAt,
		payment.RetryCount,
		payment.Notes,
		payment.Metadata,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	if id <= 0 {
		return nil, nil
	}
	return repository.ProvideStore[domain.Payment](db).FindOne(ctx, &domain.Payment{ID: id})
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	rows, err := repository.ProvideStore[domain.Payment](db).Find(
		ctx,
		&domain.Payment{InvoiceID: invoiceID},
		repository.WithOrder("recorded_at ASC, id ASC"),
	)
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, *row)
	}
	return payments, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.RecordStatus) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ? WHERE id = ?`,
		status,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
