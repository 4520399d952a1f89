package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/pkg/apperror"
)

// Granularity selects the bucket size of a yearly period report.
type Granularity string

const (
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
)

// GroupBy selects the bucket size of a date range report.
type GroupBy string

const (
	GroupByDay     GroupBy = "day"
	GroupByWeek    GroupBy = "week"
	GroupByMonth   GroupBy = "month"
	GroupByQuarter GroupBy = "quarter"
)

// DetailedTopItems is the ranking size attached to a detailed report.
const DetailedTopItems = 10

// GrowthSentinel is reported when the earlier bucket has no revenue.
// It marks "no baseline", not a literal 100% growth.
var GrowthSentinel = decimal.NewFromInt(100)

type Totals struct {
	RoomRevenue    decimal.Decimal `json:"room_revenue"`
	ServiceRevenue decimal.Decimal `json:"service_revenue"`
	OtherRevenue   decimal.Decimal `json:"other_revenue"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	InvoiceCount   int64           `json:"invoice_count"`
	BookingCount   int64           `json:"booking_count"`
}

// RevenueReport is column oriented: index i of every slice describes
// PeriodLabels[i].
type RevenueReport struct {
	PeriodLabels   []string          `json:"period_labels"`
	RoomRevenue    []decimal.Decimal `json:"room_revenue"`
	ServiceRevenue []decimal.Decimal `json:"service_revenue"`
	OtherRevenue   []decimal.Decimal `json:"other_revenue"`
	TotalRevenue   []decimal.Decimal `json:"total_revenue"`
	InvoiceCounts  []int64           `json:"invoice_counts"`
	BookingCounts  []int64           `json:"booking_counts"`
	Totals         Totals            `json:"totals"`
}

type DetailedReport struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	GroupBy  GroupBy       `json:"group_by"`
	Report   RevenueReport `json:"report"`
	TopItems []ItemRevenue `json:"top_items"`
}

// ItemRevenue is the gross revenue of one item name within a range.
type ItemRevenue struct {
	Name     string                 `json:"name"`
	ItemType invoicedomain.ItemType `json:"item_type"`
	Quantity int64                  `json:"quantity"`
	Revenue  decimal.Decimal        `json:"revenue"`
	// Percent is the share of the range's gross revenue, all item types included.
	Percent decimal.Decimal `json:"percent"`
}

type MonthComparison struct {
	Month         time.Month      `json:"month"`
	Label         string          `json:"label"`
	RevenueA      decimal.Decimal `json:"revenue_a"`
	RevenueB      decimal.Decimal `json:"revenue_b"`
	InvoicesA     int64           `json:"invoices_a"`
	InvoicesB     int64           `json:"invoices_b"`
	GrowthPercent decimal.Decimal `json:"growth_percent"`
}

type YearComparison struct {
	YearA         int               `json:"year_a"`
	YearB         int               `json:"year_b"`
	Months        []MonthComparison `json:"months"`
	TotalA        decimal.Decimal   `json:"total_a"`
	TotalB        decimal.Decimal   `json:"total_b"`
	InvoicesA     int64             `json:"invoices_a"`
	InvoicesB     int64             `json:"invoices_b"`
	GrowthPercent decimal.Decimal   `json:"growth_percent"`
}

// Service aggregates committed PAID and PARTIAL invoices. Reduction lines
// never net against revenue.
type Service interface {
	ReportByPeriod(ctx context.Context, granularity Granularity, rangeSelector int, year int) (RevenueReport, error)
	DetailedReport(ctx context.Context, start, end time.Time, groupBy GroupBy) (DetailedReport, error)
	TopPerformingItems(ctx context.Context, start, end time.Time, limit int, itemType *invoicedomain.ItemType) ([]ItemRevenue, error)
	MonthlyComparison(ctx context.Context, yearA, yearB int) (YearComparison, error)
}

var (
	ErrInvalidGranularity   = apperror.Validation("invalid_granularity")
	ErrInvalidRangeSelector = apperror.Validation("invalid_range_selector")
	ErrInvalidYear          = apperror.Validation("invalid_year")
	ErrInvalidDateRange     = apperror.Validation("invalid_date_range")
	ErrInvalidGroupBy       = apperror.Validation("invalid_group_by")
)
