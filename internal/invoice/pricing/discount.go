package pricing

import (
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
)

var hundred = decimal.NewFromInt(100)

// Discount is one resolved reduction. Percent is nil for raw amounts.
type Discount struct {
	Name        string
	PromotionID *int64
	Percent     *decimal.Decimal
	Base        decimal.Decimal
	Amount      decimal.Decimal
}

// DiscountResolver turns the running total into discounts. ok is false when
// the resolver's source is absent from the booking.
type DiscountResolver func(running decimal.Decimal) (discounts []Discount, ok bool)

// Resolvers returns the discount sources of in, in precedence order.
func Resolvers(in invoicedomain.PromotionInput, scale int32) []DiscountResolver {
	return []DiscountResolver{
		SelectedList(in.Selected, scale),
		SingleApplied(in.Applied, scale),
		RawAmount(in.RawDiscount, scale),
	}
}

// Resolve runs resolvers in order and applies the first one that is present.
func Resolve(running decimal.Decimal, resolvers []DiscountResolver) []Discount {
	for _, resolve := range resolvers {
		if discounts, ok := resolve(running); ok {
			return discounts
		}
	}
	return nil
}

// SelectedList applies every selected promotion in order, each against the
// running total left by the previous one.
func SelectedList(selected []invoicedomain.PromotionRef, scale int32) DiscountResolver {
	return func(running decimal.Decimal) ([]Discount, bool) {
		if len(selected) == 0 {
			return nil, false
		}
		discounts := make([]Discount, 0, len(selected))
		for _, promo := range selected {
			d := percentOf(running, promo, scale)
			discounts = append(discounts, d)
			running = running.Sub(d.Amount)
		}
		return discounts, true
	}
}

func SingleApplied(applied *invoicedomain.PromotionRef, scale int32) DiscountResolver {
	return func(running decimal.Decimal) ([]Discount, bool) {
		if applied == nil {
			return nil, false
		}
		return []Discount{percentOf(running, *applied, scale)}, true
	}
}

// RawAmount uses a caller-supplied discount value as-is.
func RawAmount(amount *decimal.Decimal, scale int32) DiscountResolver {
	return func(running decimal.Decimal) ([]Discount, bool) {
		if amount == nil {
			return nil, false
		}
		return []Discount{{
			Name:   RawDiscountName,
			Base:   running,
			Amount: amount.Abs().Round(scale),
		}}, true
	}
}

const RawDiscountName = "Discount"

func percentOf(running decimal.Decimal, promo invoicedomain.PromotionRef, scale int32) Discount {
	percent := promo.DiscountPercent
	return Discount{
		Name:        promo.Name,
		PromotionID: promo.PromotionID,
		Percent:     &percent,
		Base:        running,
		Amount:      running.Mul(percent).Div(hundred).Abs().Round(scale),
	}
}
