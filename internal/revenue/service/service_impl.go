package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/folio/internal/observability/metrics"
	revenue "github.com/smallbiznis/folio/internal/revenue/domain"
	"github.com/smallbiznis/folio/pkg/apperror"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Invoicing *config.InvoicingConfigHolder
	Metrics   *obsmetrics.InvoicingMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	invoicing *config.InvoicingConfigHolder
	metrics   *obsmetrics.InvoicingMetrics
}

func NewService(p Params) revenue.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("revenue.aggregator"),
		invoicing: p.Invoicing,
		metrics:   p.Metrics,
	}
}

func (s *Service) ReportByPeriod(ctx context.Context, granularity revenue.Granularity, rangeSelector int, year int) (report revenue.RevenueReport, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveReport(obsmetrics.ReportByPeriod, started, err) }()

	if !validYear(year) {
		return revenue.RevenueReport{}, revenue.ErrInvalidYear
	}
	start, end, plan, err := periodPlan(granularity, rangeSelector, year)
	if err != nil {
		return revenue.RevenueReport{}, err
	}

	lines, err := s.loadRevenueLines(ctx, start, end)
	if err != nil {
		return revenue.RevenueReport{}, err
	}
	buckets, totals := aggregate(lines, plan)

	s.log.Debug("revenue period report",
		zap.String("granularity", string(granularity)),
		zap.Int("range_selector", rangeSelector),
		zap.Int("year", year),
		zap.Int("lines", len(lines)),
	)
	return buildReport(plan.labels, buckets, totals), nil
}

func (s *Service) DetailedReport(ctx context.Context, start, end time.Time, groupBy revenue.GroupBy) (report revenue.DetailedReport, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveReport(obsmetrics.ReportDetailed, started, err) }()

	start, end, err = normalizeRange(start, end)
	if err != nil {
		return revenue.DetailedReport{}, err
	}
	plan, err := rangePlan(start, end, groupBy)
	if err != nil {
		return revenue.DetailedReport{}, err
	}

	lines, err := s.loadRevenueLines(ctx, start, end)
	if err != nil {
		return revenue.DetailedReport{}, err
	}
	buckets, totals := aggregate(lines, plan)

	return revenue.DetailedReport{
		Start:    start,
		End:      end,
		GroupBy:  groupBy,
		Report:   buildReport(plan.labels, buckets, totals),
		TopItems: rankItems(lines, nil, revenue.DetailedTopItems),
	}, nil
}

func (s *Service) TopPerformingItems(ctx context.Context, start, end time.Time, limit int, itemType *invoicedomain.ItemType) (items []revenue.ItemRevenue, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveReport(obsmetrics.ReportTopItems, started, err) }()

	start, end, err = normalizeRange(start, end)
	if err != nil {
		return nil, err
	}
	if itemType != nil && !itemType.Valid() {
		return nil, invoicedomain.ErrInvalidItemType
	}
	if limit <= 0 {
		limit = s.invoicing.Get().TopItemsLimit
	}

	lines, err := s.loadRevenueLines(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return rankItems(lines, itemType, limit), nil
}

func (s *Service) MonthlyComparison(ctx context.Context, yearA, yearB int) (comparison revenue.YearComparison, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveReport(obsmetrics.ReportMonthlyComparison, started, err) }()

	if !validYear(yearA) || !validYear(yearB) {
		return revenue.YearComparison{}, revenue.ErrInvalidYear
	}

	bucketsA, totalsA, err := s.yearByMonth(ctx, yearA)
	if err != nil {
		return revenue.YearComparison{}, err
	}
	bucketsB, totalsB, err := s.yearByMonth(ctx, yearB)
	if err != nil {
		return revenue.YearComparison{}, err
	}

	months := make([]revenue.MonthComparison, 0, 12)
	for i := range bucketsA {
		month := time.Month(i + 1)
		months = append(months, revenue.MonthComparison{
			Month:         month,
			Label:         month.String(),
			RevenueA:      bucketsA[i].TotalRevenue,
			RevenueB:      bucketsB[i].TotalRevenue,
			InvoicesA:     bucketsA[i].InvoiceCount,
			InvoicesB:     bucketsB[i].InvoiceCount,
			GrowthPercent: growthPercent(bucketsA[i].TotalRevenue, bucketsB[i].TotalRevenue),
		})
	}

	return revenue.YearComparison{
		YearA:         yearA,
		YearB:         yearB,
		Months:        months,
		TotalA:        totalsA.TotalRevenue,
		TotalB:        totalsB.TotalRevenue,
		InvoicesA:     totalsA.InvoiceCount,
		InvoicesB:     totalsB.InvoiceCount,
		GrowthPercent: growthPercent(totalsA.TotalRevenue, totalsB.TotalRevenue),
	}, nil
}

func (s *Service) yearByMonth(ctx context.Context, year int) ([]revenue.Totals, revenue.Totals, error) {
	start, end := yearBounds(year)
	lines, err := s.loadRevenueLines(ctx, start, end)
	if err != nil {
		return nil, revenue.Totals{}, err
	}
	buckets, totals := aggregate(lines, monthPlan(year, time.January, time.December))
	return buckets, totals, nil
}

// revenueLine is one line item joined to its invoice. Invoices without lines
// come back once with the line columns NULL.
type revenueLine struct {
	InvoiceID snowflake.ID        `gorm:"column:invoice_id"`
	BookingID int64               `gorm:"column:booking_id"`
	CreatedAt time.Time           `gorm:"column:created_at"`
	ItemType  *string             `gorm:"column:item_type"`
	Name      *string             `gorm:"column:name"`
	Quantity  *int64              `gorm:"column:quantity"`
	SubTotal  decimal.NullDecimal `gorm:"column:sub_total"`
}

// countable reports whether the line contributes to revenue sums.
func (l revenueLine) countable() bool {
	return l.ItemType != nil && l.SubTotal.Valid && !l.SubTotal.Decimal.IsNegative()
}

func (s *Service) loadRevenueLines(ctx context.Context, start, end time.Time) ([]revenueLine, error) {
	statuses := make([]string, 0, len(invoicedomain.RevenueStatuses))
	for _, status := range invoicedomain.RevenueStatuses {
		statuses = append(statuses, string(status))
	}

	var rows []revenueLine
	if err := s.db.WithContext(ctx).Raw(
		`SELECT i.id AS invoice_id, i.booking_id, i.created_at,
			li.item_type, li.name, li.quantity, li.sub_total
		 FROM invoices i
		 LEFT JOIN invoice_line_items li ON li.invoice_id = i.id
		 WHERE i.payment_status IN ?
		   AND i.created_at >= ?
		   AND i.created_at <= ?
		 ORDER BY i.created_at ASC, i.id ASC, li.id ASC`,
		statuses,
		start,
		end,
	).Scan(&rows).Error; err != nil {
		s.log.Error("load revenue lines failed", zap.Error(err))
		return nil, apperror.Transaction(err)
	}
	return rows, nil
}

type accumulator struct {
	totals   revenue.Totals
	invoices map[snowflake.ID]struct{}
	bookings map[int64]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		totals: revenue.Totals{
			RoomRevenue:    decimal.Zero,
			ServiceRevenue: decimal.Zero,
			OtherRevenue:   decimal.Zero,
			TotalRevenue:   decimal.Zero,
		},
		invoices: make(map[snowflake.ID]struct{}),
		bookings: make(map[int64]struct{}),
	}
}

func (a *accumulator) add(line revenueLine) {
	if _, ok := a.invoices[line.InvoiceID]; !ok {
		a.invoices[line.InvoiceID] = struct{}{}
		a.totals.InvoiceCount++
	}
	if _, ok := a.bookings[line.BookingID]; !ok {
		a.bookings[line.BookingID] = struct{}{}
		a.totals.BookingCount++
	}
	if !line.countable() {
		return
	}

	amount := line.SubTotal.Decimal
	switch invoicedomain.ItemType(*line.ItemType) {
	case invoicedomain.ItemTypeRoom:
		a.totals.RoomRevenue = a.totals.RoomRevenue.Add(amount)
	case invoicedomain.ItemTypeService:
		a.totals.ServiceRevenue = a.totals.ServiceRevenue.Add(amount)
	default:
		a.totals.OtherRevenue = a.totals.OtherRevenue.Add(amount)
	}
	a.totals.TotalRevenue = a.totals.TotalRevenue.Add(amount)
}

// aggregate buckets lines by invoice creation time. Reduction lines are
// skipped, so every figure is gross per category.
func aggregate(lines []revenueLine, plan bucketPlan) ([]revenue.Totals, revenue.Totals) {
	accs := make([]*accumulator, len(plan.labels))
	for i := range accs {
		accs[i] = newAccumulator()
	}
	overall := newAccumulator()

	for _, line := range lines {
		idx := plan.index(line.CreatedAt.UTC())
		if idx < 0 || idx >= len(accs) {
			continue
		}
		accs[idx].add(line)
		overall.add(line)
	}

	buckets := make([]revenue.Totals, 0, len(accs))
	for _, acc := range accs {
		buckets = append(buckets, acc.totals)
	}
	return buckets, overall.totals
}

func buildReport(labels []string, buckets []revenue.Totals, totals revenue.Totals) revenue.RevenueReport {
	report := revenue.RevenueReport{
		PeriodLabels:   labels,
		RoomRevenue:    make([]decimal.Decimal, 0, len(buckets)),
		ServiceRevenue: make([]decimal.Decimal, 0, len(buckets)),
		OtherRevenue:   make([]decimal.Decimal, 0, len(buckets)),
		TotalRevenue:   make([]decimal.Decimal, 0, len(buckets)),
		InvoiceCounts:  make([]int64, 0, len(buckets)),
		BookingCounts:  make([]int64, 0, len(buckets)),
		Totals:         totals,
	}
	for _, b := range buckets {
		report.RoomRevenue = append(report.RoomRevenue, b.RoomRevenue)
		report.ServiceRevenue = append(report.ServiceRevenue, b.ServiceRevenue)
		report.OtherRevenue = append(report.OtherRevenue, b.OtherRevenue)
		report.TotalRevenue = append(report.TotalRevenue, b.TotalRevenue)
		report.InvoiceCounts = append(report.InvoiceCounts, b.InvoiceCount)
		report.BookingCounts = append(report.BookingCounts, b.BookingCount)
	}
	return report
}

type itemKey struct {
	name     string
	itemType invoicedomain.ItemType
}

// rankItems orders item names by summed revenue. Shares are taken against
// the gross of every countable line, whatever the filter.
func rankItems(lines []revenueLine, itemType *invoicedomain.ItemType, limit int) []revenue.ItemRevenue {
	gross := decimal.Zero
	byKey := make(map[itemKey]*revenue.ItemRevenue)
	for _, line := range lines {
		if !line.countable() {
			continue
		}
		gross = gross.Add(line.SubTotal.Decimal)

		t := invoicedomain.ItemType(*line.ItemType)
		if itemType != nil && t != *itemType {
			continue
		}
		name := ""
		if line.Name != nil {
			name = *line.Name
		}
		key := itemKey{name: name, itemType: t}
		item, ok := byKey[key]
		if !ok {
			item = &revenue.ItemRevenue{Name: name, ItemType: t, Revenue: decimal.Zero}
			byKey[key] = item
		}
		item.Revenue = item.Revenue.Add(line.SubTotal.Decimal)
		if line.Quantity != nil {
			item.Quantity += *line.Quantity
		}
	}

	items := make([]revenue.ItemRevenue, 0, len(byKey))
	for _, item := range byKey {
		if gross.IsPositive() {
			item.Percent = item.Revenue.Div(gross).Mul(hundred).Round(2)
		} else {
			item.Percent = decimal.Zero
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		if c := items[i].Revenue.Cmp(items[j].Revenue); c != 0 {
			return c > 0
		}
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ItemType < items[j].ItemType
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// growthPercent is (current-prior)/prior*100, or GrowthSentinel when there is
// no prior revenue to compare against.
func growthPercent(prior, current decimal.Decimal) decimal.Decimal {
	if prior.IsZero() {
		return revenue.GrowthSentinel
	}
	return current.Sub(prior).Div(prior).Mul(hundred).Round(2)
}
