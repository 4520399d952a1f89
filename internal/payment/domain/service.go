package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/pkg/apperror"
	"gorm.io/gorm"
)

// LedgerUpdate reports the invoice state after a committed deposit. Warning is
// set when the audit record could not be appended.
type LedgerUpdate struct {
	Success            bool                        `json:"success"`
	InvoiceID          snowflake.ID                `json:"invoice_id"`
	DepositAmount      decimal.Decimal             `json:"deposit_amount"`
	NewPaidAmount      decimal.Decimal             `json:"new_paid_amount"`
	NewRemainingAmount decimal.Decimal             `json:"new_remaining_amount"`
	NewPaymentStatus   invoicedomain.PaymentStatus `json:"new_payment_status"`
	TransactionRef     string                      `json:"transaction_ref"`
	Warning            string                      `json:"warning,omitempty"`
}

// MaxMethodLength matches the payments.method column width.
const MaxMethodLength = 32

type DepositOptions struct {
	TransactionRef string
	Notes          string
}

type DepositOption func(*DepositOptions)

// WithTransactionRef records an external reference such as a card terminal id.
func WithTransactionRef(ref string) DepositOption {
	return func(o *DepositOptions) { o.TransactionRef = ref }
}

func WithNotes(notes string) DepositOption {
	return func(o *DepositOptions) { o.Notes = notes }
}

type Service interface {
	ApplyDeposit(ctx context.Context, invoiceID snowflake.ID, amount decimal.Decimal, method string, opts ...DepositOption) (LedgerUpdate, error)
	// SetPaymentStatus overrides the invoice status without touching amounts.
	SetPaymentStatus(ctx context.Context, invoiceID snowflake.ID, status invoicedomain.PaymentStatus) error
	ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
	CorrectPaymentRecordStatus(ctx context.Context, paymentID snowflake.ID, status RecordStatus) error
}

// Recorder appends payment audit records after the ledger commit.
type Recorder interface {
	Name() string
	Record(ctx context.Context, payment Payment) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status RecordStatus) (bool, error)
}

var (
	ErrInvalidAmount       = apperror.Validation("invalid_deposit_amount")
	ErrInvalidMethod       = apperror.Validation("invalid_payment_method")
	ErrInvalidRecordStatus = apperror.Validation("invalid_payment_record_status")
	ErrInvalidPaymentID    = apperror.Validation("invalid_payment_id")
	ErrPaymentNotFound     = apperror.NotFound("payment_not_found")
	ErrDepositConflict     = apperror.Conflict("deposit_version_conflict")
)
