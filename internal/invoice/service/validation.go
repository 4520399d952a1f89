package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Let numeric tags such as gte=0 apply to decimal amounts.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func validateSnapshot(snapshot invoicedomain.BookingSnapshot) error {
	if snapshot.BookingID <= 0 {
		return invoicedomain.ErrInvalidBookingID
	}

	err := validate.Struct(snapshot)
	if err == nil && snapshot.Promotions.RawDiscount != nil && snapshot.Promotions.RawDiscount.IsNegative() {
		return fmt.Errorf("%w: raw discount must not be negative", invoicedomain.ErrInvalidSnapshot)
	}
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", invoicedomain.ErrInvalidSnapshot, strings.Join(fields, "; "))
	}
	return fmt.Errorf("%w: %v", invoicedomain.ErrInvalidSnapshot, err)
}
