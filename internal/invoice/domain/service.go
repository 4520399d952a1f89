package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/pkg/apperror"
)

// BookingSnapshot is the already-confirmed booking an invoice is built from.
type BookingSnapshot struct {
	BookingID  int64           `json:"booking_id" validate:"gt=0"`
	Rooms      []RoomCharge    `json:"rooms" validate:"dive"`
	Services   []ServiceCharge `json:"services" validate:"dive"`
	Fees       []FeeCharge     `json:"fees" validate:"dive"`
	Promotions PromotionInput  `json:"promotions"`
}

type RoomCharge struct {
	RoomID    *int64          `json:"room_id,omitempty"`
	Name      string          `json:"name" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Nights    int             `json:"nights" validate:"gt=0"`
}

type ServiceCharge struct {
	ServiceID *int64          `json:"service_id,omitempty"`
	Name      string          `json:"name" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
}

// FeeCharge is a fee, tax or extra charged on top of rooms and services.
type FeeCharge struct {
	Type      ItemType        `json:"type" validate:"oneof=FEE TAX EXTRA"`
	Name      string          `json:"name" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
}

// PromotionInput carries up to three discount sources. Only the first present
// one is applied, in field order.
type PromotionInput struct {
	Selected    []PromotionRef   `json:"selected,omitempty" validate:"dive"`
	Applied     *PromotionRef    `json:"applied,omitempty"`
	RawDiscount *decimal.Decimal `json:"raw_discount,omitempty"`
}

type PromotionRef struct {
	PromotionID     *int64          `json:"promotion_id,omitempty"`
	Name            string          `json:"name" validate:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0"`
}

type BuildResult struct {
	Success          bool            `json:"success"`
	InvoiceID        snowflake.ID    `json:"invoice_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	ItemsCreated     int             `json:"items_created"`
	IsExisting       bool            `json:"is_existing"`
	PromotionApplied bool            `json:"promotion_applied"`
	DiscountTotal    decimal.Decimal `json:"discount_total"`
	Message          string          `json:"message"`
	Invoice          Invoice         `json:"-"`
}

type Service interface {
	// BuildInvoice creates the invoice for a booking, or returns the existing one.
	BuildInvoice(ctx context.Context, snapshot BookingSnapshot) (BuildResult, error)
	GetInvoice(ctx context.Context, invoiceID snowflake.ID) (Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID int64) (Invoice, error)
}

var (
	ErrInvalidBookingID     = apperror.Validation("invalid_booking_id")
	ErrInvalidSnapshot      = apperror.Validation("invalid_booking_snapshot")
	ErrInvalidInvoiceID     = apperror.Validation("invalid_invoice_id")
	ErrInvalidItemType      = apperror.Validation("invalid_item_type")
	ErrInvalidPaymentStatus = apperror.Validation("invalid_payment_status")
	ErrInvalidLineItem      = apperror.Validation("invalid_line_item")
	ErrInvoiceNotFound      = apperror.NotFound("invoice_not_found")
	ErrInvoiceOutOfBalance  = apperror.Conflict("invoice_out_of_balance")
)
