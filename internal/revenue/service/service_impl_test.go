package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/folio/internal/config"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/migration"
	revenue "github.com/smallbiznis/folio/internal/revenue/domain"
	revenueservice "github.com/smallbiznis/folio/internal/revenue/service"
	"github.com/smallbiznis/folio/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) revenue.Service {
	t.Helper()

	cfg := config.DefaultInvoicingConfig()
	cfg.TopItemsLimit = 3
	return revenueservice.NewService(revenueservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Invoicing: config.NewStaticInvoicingConfigHolder(cfg),
	})
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func day(year int, month time.Month, d, hour int) time.Time {
	return time.Date(year, month, d, hour, 0, 0, 0, time.UTC)
}

type seedLine struct {
	itemType invoicedomain.ItemType
	name     string
	quantity int
	subTotal string
}

type seeder struct {
	t       *testing.T
	db      *gorm.DB
	node    *snowflake.Node
	booking int64
}

func newSeeder(t *testing.T, db *gorm.DB) *seeder {
	t.Helper()
	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return &seeder{t: t, db: db, node: node, booking: 1000}
}

func (s *seeder) invoice(status invoicedomain.PaymentStatus, createdAt time.Time, lines ...seedLine) snowflake.ID {
	s.t.Helper()
	s.booking++

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(amount(l.subTotal))
	}
	if total.IsNegative() {
		total = decimal.Zero
	}
	inv := invoicedomain.Invoice{
		ID:              s.node.Generate(),
		BookingID:       s.booking,
		InvoiceNumber:   fmt.Sprintf("INV-TEST-%06d", s.booking),
		TotalAmount:     total,
		PaidAmount:      total,
		RemainingAmount: decimal.Zero,
		PaymentStatus:   status,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	if err := s.db.Create(&inv).Error; err != nil {
		s.t.Fatalf("seed invoice: %v", err)
	}

	for _, l := range lines {
		sub := amount(l.subTotal)
		item := invoicedomain.LineItem{
			ID:        s.node.Generate(),
			InvoiceID: inv.ID,
			ItemType:  l.itemType,
			Name:      l.name,
			Quantity:  l.quantity,
			UnitPrice: sub.Abs().Div(decimal.NewFromInt(int64(l.quantity))).Round(2),
			SubTotal:  sub,
			CreatedAt: createdAt,
		}
		if err := s.db.Create(&item).Error; err != nil {
			s.t.Fatalf("seed line item: %v", err)
		}
	}
	return inv.ID
}

func room(name, subTotal string) seedLine {
	return seedLine{itemType: invoicedomain.ItemTypeRoom, name: name, quantity: 2, subTotal: subTotal}
}

func svc(name, subTotal string) seedLine {
	return seedLine{itemType: invoicedomain.ItemTypeService, name: name, quantity: 1, subTotal: subTotal}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, amount(want).Equal(got), "want %s, got %s", want, got)
}

func TestReportByPeriodExcludesReductionLines(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.April, 2, 14),
		room("Deluxe King", "500000"),
		seedLine{itemType: invoicedomain.ItemTypePromotion, name: "Spring Sale", quantity: 1, subTotal: "-50000"},
	)

	report, err := newService(t, db).ReportByPeriod(context.Background(), revenue.GranularityMonth, 0, 2024)
	require.NoError(t, err)

	require.Len(t, report.PeriodLabels, 12)
	assert.Equal(t, "April", report.PeriodLabels[3])
	assertAmount(t, "500000", report.RoomRevenue[3])
	assertAmount(t, "500000", report.TotalRevenue[3])
	assertAmount(t, "0", report.OtherRevenue[3])
	assert.Equal(t, int64(1), report.InvoiceCounts[3])
	assertAmount(t, "500000", report.Totals.RoomRevenue)
	assertAmount(t, "500000", report.Totals.TotalRevenue)
}

func TestReportByPeriodOnlyCountsPaidAndPartial(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	at := day(2024, time.May, 10, 9)
	seed.invoice(invoicedomain.PaymentStatusPaid, at, room("Suite", "800000"))
	seed.invoice(invoicedomain.PaymentStatusPartial, at, svc("Spa", "150000"))
	seed.invoice(invoicedomain.PaymentStatusPending, at, room("Suite", "900000"))
	seed.invoice(invoicedomain.PaymentStatusCancelled, at, room("Suite", "900000"))
	seed.invoice(invoicedomain.PaymentStatusRefunded, at, room("Suite", "900000"))

	report, err := newService(t, db).ReportByPeriod(context.Background(), revenue.GranularityQuarter, 0, 2024)
	require.NoError(t, err)

	assert.Equal(t, []string{"Q1", "Q2", "Q3", "Q4"}, report.PeriodLabels)
	assertAmount(t, "800000", report.RoomRevenue[1])
	assertAmount(t, "150000", report.ServiceRevenue[1])
	assertAmount(t, "950000", report.TotalRevenue[1])
	assert.Equal(t, int64(2), report.InvoiceCounts[1])
	assert.Equal(t, int64(2), report.BookingCounts[1])
	assertAmount(t, "0", report.TotalRevenue[0])
}

func TestReportByPeriodWeekBuckets(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.April, 3, 8), svc("Breakfast", "100000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.April, 8, 8), svc("Breakfast", "120000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.April, 29, 8),
		seedLine{itemType: invoicedomain.ItemTypeTax, name: "City Tax", quantity: 1, subTotal: "30000"})
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.April, 30, 23), room("Twin", "400000"))
	// Outside the selected month.
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.May, 1, 0), room("Twin", "400000"))

	report, err := newService(t, db).ReportByPeriod(context.Background(), revenue.GranularityWeek, 4, 2024)
	require.NoError(t, err)

	assert.Equal(t, []string{"Week 1", "Week 2", "Week 3", "Week 4", "Week 5"}, report.PeriodLabels)
	assertAmount(t, "100000", report.TotalRevenue[0])
	assertAmount(t, "120000", report.TotalRevenue[1])
	assertAmount(t, "0", report.TotalRevenue[2])
	assertAmount(t, "0", report.TotalRevenue[3])
	assertAmount(t, "430000", report.TotalRevenue[4])
	assertAmount(t, "30000", report.OtherRevenue[4])
	assertAmount(t, "400000", report.RoomRevenue[4])
	assert.Equal(t, int64(2), report.InvoiceCounts[4])
	assert.Equal(t, int64(4), report.Totals.InvoiceCount)
}

func TestReportByPeriodQuarterOfMonths(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.August, 15, 12), room("Suite", "600000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.October, 1, 12), room("Suite", "600000"))

	report, err := newService(t, db).ReportByPeriod(context.Background(), revenue.GranularityMonth, 3, 2024)
	require.NoError(t, err)

	assert.Equal(t, []string{"July", "August", "September"}, report.PeriodLabels)
	assertAmount(t, "600000", report.RoomRevenue[1])
	assertAmount(t, "600000", report.Totals.TotalRevenue)
	assert.Equal(t, int64(1), report.Totals.InvoiceCount)
}

func TestReportByPeriodRejectsBadInput(t *testing.T) {
	s := newService(t, setupTestDB(t))

	tests := []struct {
		name          string
		granularity   revenue.Granularity
		rangeSelector int
		year          int
		want          error
	}{
		{name: "unknown granularity", granularity: "fortnight", year: 2024, want: revenue.ErrInvalidGranularity},
		{name: "week without month", granularity: revenue.GranularityWeek, rangeSelector: 0, year: 2024, want: revenue.ErrInvalidRangeSelector},
		{name: "week month 13", granularity: revenue.GranularityWeek, rangeSelector: 13, year: 2024, want: revenue.ErrInvalidRangeSelector},
		{name: "fifth quarter", granularity: revenue.GranularityMonth, rangeSelector: 5, year: 2024, want: revenue.ErrInvalidRangeSelector},
		{name: "year zero", granularity: revenue.GranularityQuarter, year: 0, want: revenue.ErrInvalidYear},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ReportByPeriod(context.Background(), tt.granularity, tt.rangeSelector, tt.year)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, apperror.ErrValidation, apperror.KindOf(err))
		})
	}
}

func TestDetailedReportIncludesWholeEndDay(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.June, 1, 10), room("Suite", "700000"), svc("Laundry", "50000"))
	seed.invoice(invoicedomain.PaymentStatusPartial, day(2024, time.June, 3, 23), room("Twin", "300000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.June, 4, 0), room("Twin", "300000"))

	report, err := newService(t, db).DetailedReport(context.Background(),
		day(2024, time.June, 1, 0), day(2024, time.June, 3, 0), revenue.GroupByDay)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-06-01", "2024-06-02", "2024-06-03"}, report.Report.PeriodLabels)
	assertAmount(t, "750000", report.Report.TotalRevenue[0])
	assertAmount(t, "0", report.Report.TotalRevenue[1])
	assertAmount(t, "300000", report.Report.TotalRevenue[2])
	assertAmount(t, "1050000", report.Report.Totals.TotalRevenue)
	assert.Equal(t, day(2024, time.June, 3, 0).AddDate(0, 0, 1).Add(-time.Nanosecond), report.End)

	require.Len(t, report.TopItems, 3)
	assert.Equal(t, "Suite", report.TopItems[0].Name)
	assert.Equal(t, "Twin", report.TopItems[1].Name)
	assert.Equal(t, "Laundry", report.TopItems[2].Name)
}

func TestDetailedReportCapsTopItemsAtTen(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	at := day(2024, time.September, 9, 11)
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("Item %02d", i)
		seed.invoice(invoicedomain.PaymentStatusPaid, at, svc(name, fmt.Sprintf("%d", (13-i)*10000)))
	}

	report, err := newService(t, db).DetailedReport(context.Background(), at, at, revenue.GroupByDay)
	require.NoError(t, err)

	require.Len(t, report.TopItems, revenue.DetailedTopItems)
	assert.Equal(t, "Item 01", report.TopItems[0].Name)
	assertAmount(t, "120000", report.TopItems[0].Revenue)
	last := report.TopItems[len(report.TopItems)-1]
	assert.Equal(t, "Item 10", last.Name)
	assertAmount(t, "30000", last.Revenue)
	assertAmount(t, "780000", report.Report.Totals.TotalRevenue)
}

func TestDetailedReportGroupsByISOWeek(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	// 2024-12-30 belongs to ISO week 1 of 2025.
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.December, 30, 9), room("Suite", "500000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.December, 27, 9), room("Suite", "200000"))

	report, err := newService(t, db).DetailedReport(context.Background(),
		day(2024, time.December, 23, 0), day(2025, time.January, 5, 0), revenue.GroupByWeek)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-W52", "2025-W01"}, report.Report.PeriodLabels)
	assertAmount(t, "200000", report.Report.TotalRevenue[0])
	assertAmount(t, "500000", report.Report.TotalRevenue[1])
}

func TestDetailedReportRejectsBadInput(t *testing.T) {
	s := newService(t, setupTestDB(t))

	_, err := s.DetailedReport(context.Background(), day(2024, time.June, 5, 0), day(2024, time.June, 1, 0), revenue.GroupByDay)
	assert.ErrorIs(t, err, revenue.ErrInvalidDateRange)

	_, err = s.DetailedReport(context.Background(), time.Time{}, day(2024, time.June, 1, 0), revenue.GroupByDay)
	assert.ErrorIs(t, err, revenue.ErrInvalidDateRange)

	_, err = s.DetailedReport(context.Background(), day(2024, time.June, 1, 0), day(2024, time.June, 5, 0), "hour")
	assert.ErrorIs(t, err, revenue.ErrInvalidGroupBy)
}

func TestTopPerformingItems(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	at := day(2024, time.July, 10, 12)
	seed.invoice(invoicedomain.PaymentStatusPaid, at, room("Suite", "400000"), svc("Spa", "100000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, at, room("Suite", "200000"), svc("Airport Transfer", "100000"),
		seedLine{itemType: invoicedomain.ItemTypeDiscount, name: "Discount", quantity: 1, subTotal: "-80000"})
	seed.invoice(invoicedomain.PaymentStatusPaid, at, svc("Minibar", "50000"),
		seedLine{itemType: invoicedomain.ItemTypeFee, name: "Late Checkout", quantity: 1, subTotal: "150000"})
	s := newService(t, db)

	t.Run("default limit and shares", func(t *testing.T) {
		items, err := s.TopPerformingItems(context.Background(), at, at, 0, nil)
		require.NoError(t, err)

		require.Len(t, items, 3)
		assert.Equal(t, "Suite", items[0].Name)
		assert.Equal(t, invoicedomain.ItemTypeRoom, items[0].ItemType)
		assert.Equal(t, int64(4), items[0].Quantity)
		assertAmount(t, "600000", items[0].Revenue)
		assertAmount(t, "60", items[0].Percent)
		assert.Equal(t, "Late Checkout", items[1].Name)
		// Equal revenue falls back to name order.
		assert.Equal(t, "Airport Transfer", items[2].Name)
		assertAmount(t, "10", items[2].Percent)
	})

	t.Run("explicit limit", func(t *testing.T) {
		items, err := s.TopPerformingItems(context.Background(), at, at, 2, nil)
		require.NoError(t, err)

		require.Len(t, items, 2)
		assert.Equal(t, "Suite", items[0].Name)
		assert.Equal(t, "Late Checkout", items[1].Name)
		assertAmount(t, "150000", items[1].Revenue)
	})

	t.Run("type filter keeps gross share", func(t *testing.T) {
		serviceType := invoicedomain.ItemTypeService
		items, err := s.TopPerformingItems(context.Background(), at, at, 10, &serviceType)
		require.NoError(t, err)

		require.Len(t, items, 3)
		assert.Equal(t, []string{"Airport Transfer", "Spa", "Minibar"}, []string{items[0].Name, items[1].Name, items[2].Name})
		assertAmount(t, "10", items[0].Percent)
		assertAmount(t, "5", items[2].Percent)
	})

	t.Run("reduction lines never rank", func(t *testing.T) {
		discount := invoicedomain.ItemTypeDiscount
		items, err := s.TopPerformingItems(context.Background(), at, at, 10, &discount)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("invalid type", func(t *testing.T) {
		bogus := invoicedomain.ItemType("MEAL")
		_, err := s.TopPerformingItems(context.Background(), at, at, 10, &bogus)
		assert.ErrorIs(t, err, invoicedomain.ErrInvalidItemType)
	})
}

func TestMonthlyComparison(t *testing.T) {
	db := setupTestDB(t)
	seed := newSeeder(t, db)
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2023, time.January, 5, 9), room("Suite", "100000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.January, 20, 9), room("Suite", "150000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2024, time.February, 2, 9), room("Suite", "200000"))
	seed.invoice(invoicedomain.PaymentStatusPaid, day(2023, time.March, 2, 9), room("Suite", "80000"))

	cmp, err := newService(t, db).MonthlyComparison(context.Background(), 2023, 2024)
	require.NoError(t, err)

	require.Len(t, cmp.Months, 12)
	jan, feb, mar, apr := cmp.Months[0], cmp.Months[1], cmp.Months[2], cmp.Months[3]

	assert.Equal(t, "January", jan.Label)
	assertAmount(t, "100000", jan.RevenueA)
	assertAmount(t, "150000", jan.RevenueB)
	assertAmount(t, "50", jan.GrowthPercent)

	assertAmount(t, "200000", feb.RevenueB)
	assert.True(t, revenue.GrowthSentinel.Equal(feb.GrowthPercent))
	assert.Equal(t, int64(0), feb.InvoicesA)
	assert.Equal(t, int64(1), feb.InvoicesB)

	assertAmount(t, "-100", mar.GrowthPercent)
	// No revenue on either side still reports the sentinel.
	assert.True(t, revenue.GrowthSentinel.Equal(apr.GrowthPercent))

	assertAmount(t, "180000", cmp.TotalA)
	assertAmount(t, "350000", cmp.TotalB)
	assert.Equal(t, int64(2), cmp.InvoicesA)
	assert.Equal(t, int64(2), cmp.InvoicesB)
	assertAmount(t, "94.44", cmp.GrowthPercent)

	_, err = newService(t, db).MonthlyComparison(context.Background(), 2023, 10000)
	assert.ErrorIs(t, err, revenue.ErrInvalidYear)
}
