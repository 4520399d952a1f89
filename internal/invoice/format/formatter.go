package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}{DD}-{SEQ6}"

// sequenceToken is {SEQn}: the booking id zero-padded to n digits (1-9).
// Every template needs one so numbers stay unique per booking.
var sequenceToken = regexp.MustCompile(`\{SEQ([1-9])\}`)

var (
	ErrEmptyTemplate      = errors.New("invoice number template is empty")
	ErrMissingSequence    = errors.New("invoice number template needs a {SEQn} token")
	ErrUnresolvedToken    = errors.New("unresolved token in invoice number template")
	ErrInvalidBookingSeed = errors.New("invoice number needs a positive booking id")
)

// ValidateTemplate checks a template without rendering a real invoice.
func ValidateTemplate(template string) error {
	_, err := FormatInvoiceNumber(template, time.Unix(0, 0).UTC(), 1)
	return err
}

// FormatInvoiceNumber renders the invoice number for bookingID, dated by the
// invoice's creation time. Supported tokens: {YYYY} {MM} {DD} {SEQn}.
func FormatInvoiceNumber(template string, createdAt time.Time, bookingID int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", ErrEmptyTemplate
	}
	if bookingID <= 0 {
		return "", ErrInvalidBookingSeed
	}
	if !sequenceToken.MatchString(template) {
		return "", ErrMissingSequence
	}

	dated := strings.NewReplacer(
		"{YYYY}", createdAt.Format("2006"),
		"{MM}", createdAt.Format("01"),
		"{DD}", createdAt.Format("02"),
	).Replace(template)

	out := sequenceToken.ReplaceAllStringFunc(dated, func(token string) string {
		width := int(token[len("{SEQ")] - '0')
		return fmt.Sprintf("%0*d", width, bookingID)
	})
	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedToken, out)
	}
	return out, nil
}

// RoomDescription describes a room charge line, e.g. "2 room(s) x 3 night(s)".
func RoomDescription(quantity, nights int) string {
	return fmt.Sprintf("%d room(s) x %d night(s)", quantity, nights)
}

// DiscountDescription describes a promotion line. percent is empty for raw amounts.
func DiscountDescription(percent string, base string) string {
	if percent == "" {
		return "Discount amount applied as supplied"
	}
	return fmt.Sprintf("%s%% off running total %s", percent, base)
}
