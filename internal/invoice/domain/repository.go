package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerState is the mutable settlement part of an invoice.
type LedgerState struct {
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
	PaymentStatus   PaymentStatus
}

type Repository interface {
	// InsertIfAbsent inserts invoice unless one exists for its booking. It
	// reports whether this call created the row.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertLineItems(ctx context.Context, db *gorm.DB, items []LineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByBookingID(ctx context.Context, db *gorm.DB, bookingID int64) (*Invoice, error)
	ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, total decimal.Decimal, updatedAt time.Time) error
	// UpdateLedger writes state only if the row is still at expectedVersion.
	UpdateLedger(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, state LedgerState, updatedAt time.Time) (bool, error)
	UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, updatedAt time.Time) (bool, error)
}
