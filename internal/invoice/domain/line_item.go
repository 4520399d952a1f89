package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubTotalTolerance is the largest accepted drift between SubTotal and Quantity x UnitPrice.
var SubTotalTolerance = decimal.NewFromFloat(0.01)

// NewChargeLine builds a positive line. SubTotal is Quantity x UnitPrice.
func NewChargeLine(itemType ItemType, name string, referenceID *int64, unitPrice decimal.Decimal, quantity int, description string) (LineItem, error) {
	if itemType.IsReduction() {
		return LineItem{}, fmt.Errorf("%w: %s is not a charge type", ErrInvalidLineItem, itemType)
	}
	line := LineItem{
		ItemType:    itemType,
		ReferenceID: referenceID,
		Name:        strings.TrimSpace(name),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		SubTotal:    unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		Description: description,
		Metadata:    datatypes.JSONMap{},
	}
	if err := line.Validate(); err != nil {
		return LineItem{}, err
	}
	return line, nil
}

// NewReductionLine builds a discount line of magnitude amount. It always has
// Quantity 1 and a negative SubTotal.
func NewReductionLine(itemType ItemType, name string, referenceID *int64, amount decimal.Decimal, description string) (LineItem, error) {
	if !itemType.IsReduction() {
		return LineItem{}, fmt.Errorf("%w: %s is not a reduction type", ErrInvalidLineItem, itemType)
	}
	amount = amount.Abs()
	line := LineItem{
		ItemType:    itemType,
		ReferenceID: referenceID,
		Name:        strings.TrimSpace(name),
		Quantity:    1,
		UnitPrice:   amount,
		SubTotal:    amount.Neg(),
		Description: description,
		Metadata:    datatypes.JSONMap{},
	}
	if err := line.Validate(); err != nil {
		return LineItem{}, err
	}
	return line, nil
}

// Validate checks the per-type line invariants.
func (l LineItem) Validate() error {
	if !l.ItemType.Valid() {
		return ErrInvalidItemType
	}
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLineItem)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidLineItem)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidLineItem)
	}

	if l.ItemType.IsReduction() {
		if l.Quantity != 1 {
			return fmt.Errorf("%w: discount quantity must be 1", ErrInvalidLineItem)
		}
		if !l.SubTotal.IsNegative() {
			return fmt.Errorf("%w: discount subtotal must be negative", ErrInvalidLineItem)
		}
		if !l.UnitPrice.Equal(l.SubTotal.Abs()) {
			return fmt.Errorf("%w: discount unit price must equal |subtotal|", ErrInvalidLineItem)
		}
		return nil
	}

	expected := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	if l.SubTotal.Sub(expected).Abs().GreaterThanOrEqual(SubTotalTolerance) {
		return fmt.Errorf("%w: subtotal %s does not match %d x %s", ErrInvalidLineItem, l.SubTotal, l.Quantity, l.UnitPrice)
	}
	return nil
}

// RemainingFor returns max(0, total - paid).
func RemainingFor(total, paid decimal.Decimal) decimal.Decimal {
	remaining := total.Sub(paid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// DeriveStatus computes the status implied by the ledger amounts alone.
func DeriveStatus(paid, remaining decimal.Decimal) PaymentStatus {
	switch {
	case !remaining.IsPositive():
		return PaymentStatusPaid
	case paid.IsPositive():
		return PaymentStatusPartial
	default:
		return PaymentStatusPending
	}
}

// CheckBalance verifies that RemainingAmount agrees with TotalAmount and PaidAmount.
func (i Invoice) CheckBalance() error {
	if i.TotalAmount.IsNegative() || i.PaidAmount.IsNegative() {
		return fmt.Errorf("%w: negative amount on invoice %d", ErrInvoiceOutOfBalance, i.ID)
	}
	if !i.RemainingAmount.Equal(RemainingFor(i.TotalAmount, i.PaidAmount)) {
		return fmt.Errorf("%w: invoice %d remaining %s, total %s, paid %s",
			ErrInvoiceOutOfBalance, i.ID, i.RemainingAmount, i.TotalAmount, i.PaidAmount)
	}
	return nil
}
