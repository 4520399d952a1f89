// Package domain contains persistence models for hotel invoicing.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ItemType classifies a billable entry.
type ItemType string

const (
	ItemTypeRoom      ItemType = "ROOM"
	ItemTypeService   ItemType = "SERVICE"
	ItemTypePromotion ItemType = "PROMOTION"
	ItemTypeFee       ItemType = "FEE"
	ItemTypeTax       ItemType = "TAX"
	ItemTypeDiscount  ItemType = "DISCOUNT"
	ItemTypeExtra     ItemType = "EXTRA"
)

func ParseItemType(value string) (ItemType, error) {
	t := ItemType(strings.ToUpper(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", ErrInvalidItemType
	}
	return t, nil
}

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeRoom, ItemTypeService, ItemTypePromotion, ItemTypeFee,
		ItemTypeTax, ItemTypeDiscount, ItemTypeExtra:
		return true
	}
	return false
}

// IsReduction reports whether lines of this type carry a negative SubTotal.
func (t ItemType) IsReduction() bool {
	return t == ItemTypePromotion || t == ItemTypeDiscount
}

// PaymentStatus is the settlement state of an invoice.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPartial   PaymentStatus = "PARTIAL"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusOverdue   PaymentStatus = "OVERDUE"
)

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", ErrInvalidPaymentStatus
	}
	return s, nil
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPartial, PaymentStatusPaid,
		PaymentStatusRefunded, PaymentStatusCancelled, PaymentStatusOverdue:
		return true
	}
	return false
}

// RevenueStatuses lists the statuses whose invoices count as revenue.
var RevenueStatuses = []PaymentStatus{PaymentStatusPaid, PaymentStatusPartial}

// Invoice is the billed state of one booking.
type Invoice struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	BookingID       int64           `gorm:"not null;uniqueIndex:ux_invoices_booking_id"`
	InvoiceNumber   string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_invoices_number"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	PaidAmount      decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	PaymentStatus   PaymentStatus   `gorm:"type:varchar(16);not null;default:'PENDING';index"`
	Version         int64           `gorm:"not null;default:0"`
	CreatedAt       time.Time       `gorm:"not null;index"`
	UpdatedAt       time.Time       `gorm:"not null"`

	LineItems []LineItem `gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// LineItem is one billable entry on an invoice. UnitPrice is always a
// magnitude; the sign lives on SubTotal.
type LineItem struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	InvoiceID   snowflake.ID      `gorm:"not null;index"`
	ItemType    ItemType          `gorm:"type:varchar(16);not null;index"`
	ReferenceID *int64            `gorm:""`
	Name        string            `gorm:"type:varchar(255);not null"`
	Quantity    int               `gorm:"not null"`
	UnitPrice   decimal.Decimal   `gorm:"type:numeric(18,2);not null"`
	SubTotal    decimal.Decimal   `gorm:"type:numeric(18,2);not null"`
	Description string            `gorm:"type:text"`
	Metadata    datatypes.JSONMap `gorm:""`
	CreatedAt   time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }
