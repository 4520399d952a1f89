// Package pricing turns a booking snapshot into invoice lines. It is pure: no
// storage, no clock.
package pricing

import (
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/format"
)

// Quote is the priced form of a booking before it is persisted.
type Quote struct {
	Lines            []invoicedomain.LineItem
	Gross            decimal.Decimal
	DiscountTotal    decimal.Decimal
	Total            decimal.Decimal
	PromotionApplied bool
}

type Calculator struct {
	scale int32
}

func NewCalculator(scale int32) Calculator {
	return Calculator{scale: scale}
}

// Quote prices rooms, then services, then fees, then the first present
// promotion source. The final total is clamped at zero.
func (c Calculator) Quote(snapshot invoicedomain.BookingSnapshot) (Quote, error) {
	var (
		q       Quote
		running = decimal.Zero
	)

	for _, room := range snapshot.Rooms {
		line, err := invoicedomain.NewChargeLine(
			invoicedomain.ItemTypeRoom,
			room.Name,
			room.RoomID,
			c.money(room.UnitPrice),
			room.Quantity*room.Nights,
			format.RoomDescription(room.Quantity, room.Nights),
		)
		if err != nil {
			return Quote{}, err
		}
		line.Metadata["rooms"] = room.Quantity
		line.Metadata["nights"] = room.Nights
		q.Lines = append(q.Lines, line)
		running = running.Add(line.SubTotal)
	}

	for _, svc := range snapshot.Services {
		line, err := invoicedomain.NewChargeLine(
			invoicedomain.ItemTypeService,
			svc.Name,
			svc.ServiceID,
			c.money(svc.UnitPrice),
			svc.Quantity,
			"",
		)
		if err != nil {
			return Quote{}, err
		}
		q.Lines = append(q.Lines, line)
		running = running.Add(line.SubTotal)
	}

	for _, fee := range snapshot.Fees {
		line, err := invoicedomain.NewChargeLine(fee.Type, fee.Name, nil, c.money(fee.UnitPrice), fee.Quantity, "")
		if err != nil {
			return Quote{}, err
		}
		q.Lines = append(q.Lines, line)
		running = running.Add(line.SubTotal)
	}

	q.Gross = running
	q.DiscountTotal = decimal.Zero

	for _, d := range Resolve(running, Resolvers(snapshot.Promotions, c.scale)) {
		// A zero discount has no representable line.
		if d.Amount.IsZero() {
			continue
		}
		percent := ""
		if d.Percent != nil {
			percent = d.Percent.String()
		}
		line, err := invoicedomain.NewReductionLine(
			invoicedomain.ItemTypePromotion,
			d.Name,
			d.PromotionID,
			d.Amount,
			format.DiscountDescription(percent, d.Base.StringFixed(c.scale)),
		)
		if err != nil {
			return Quote{}, err
		}
		if d.Percent != nil {
			line.Metadata["discount_percent"] = percent
		}
		q.Lines = append(q.Lines, line)
		q.DiscountTotal = q.DiscountTotal.Add(d.Amount)
		q.PromotionApplied = true
		running = running.Sub(d.Amount)
	}

	q.Total = running
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}
	return q, nil
}

func (c Calculator) money(v decimal.Decimal) decimal.Decimal {
	return v.Round(c.scale)
}
