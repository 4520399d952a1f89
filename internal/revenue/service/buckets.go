package service

import (
	"fmt"
	"time"

	revenue "github.com/smallbiznis/folio/internal/revenue/domain"
)

const (
	weeksPerMonthReport = 5
	maxRangeBuckets     = 3700
)

// bucketPlan maps a timestamp onto a report column; index returns -1 for
// timestamps outside the plan.
type bucketPlan struct {
	labels []string
	index  func(time.Time) int
}

func yearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond)
}

// periodPlan resolves a yearly report request into its query range and buckets.
func periodPlan(granularity revenue.Granularity, rangeSelector, year int) (time.Time, time.Time, bucketPlan, error) {
	switch granularity {
	case revenue.GranularityWeek:
		if rangeSelector < 1 || rangeSelector > 12 {
			return time.Time{}, time.Time{}, bucketPlan{}, revenue.ErrInvalidRangeSelector
		}
		month := time.Month(rangeSelector)
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)

		labels := make([]string, 0, weeksPerMonthReport)
		for i := 1; i <= weeksPerMonthReport; i++ {
			labels = append(labels, fmt.Sprintf("Week %d", i))
		}
		return start, end, bucketPlan{
			labels: labels,
			index: func(t time.Time) int {
				if t.Year() != year || t.Month() != month {
					return -1
				}
				// Days 29 and later all land in the fifth week.
				return min((t.Day()-1)/7, weeksPerMonthReport-1)
			},
		}, nil

	case revenue.GranularityMonth:
		first, last := time.January, time.December
		switch {
		case rangeSelector == 0:
		case rangeSelector >= 1 && rangeSelector <= 4:
			first = time.Month((rangeSelector-1)*3 + 1)
			last = first + 2
		default:
			return time.Time{}, time.Time{}, bucketPlan{}, revenue.ErrInvalidRangeSelector
		}
		start := time.Date(year, first, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(year, last, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0).Add(-time.Nanosecond)
		return start, end, monthPlan(year, first, last), nil

	case revenue.GranularityQuarter:
		start, end := yearBounds(year)
		return start, end, bucketPlan{
			labels: []string{"Q1", "Q2", "Q3", "Q4"},
			index: func(t time.Time) int {
				if t.Year() != year {
					return -1
				}
				return (int(t.Month()) - 1) / 3
			},
		}, nil
	}
	return time.Time{}, time.Time{}, bucketPlan{}, revenue.ErrInvalidGranularity
}

func monthPlan(year int, first, last time.Month) bucketPlan {
	labels := make([]string, 0, int(last-first)+1)
	for m := first; m <= last; m++ {
		labels = append(labels, m.String())
	}
	return bucketPlan{
		labels: labels,
		index: func(t time.Time) int {
			if t.Year() != year || t.Month() < first || t.Month() > last {
				return -1
			}
			return int(t.Month() - first)
		},
	}
}

// rangePlan emits every bucket between start and end, empty ones included.
func rangePlan(start, end time.Time, groupBy revenue.GroupBy) (bucketPlan, error) {
	if !validGroupBy(groupBy) {
		return bucketPlan{}, revenue.ErrInvalidGroupBy
	}

	positions := make(map[string]int)
	labels := make([]string, 0)
	for cursor := periodStart(start, groupBy); !cursor.After(end); cursor = nextPeriod(cursor, groupBy) {
		if len(labels) == maxRangeBuckets {
			return bucketPlan{}, revenue.ErrInvalidDateRange
		}
		label := periodLabel(cursor, groupBy)
		positions[label] = len(labels)
		labels = append(labels, label)
	}

	return bucketPlan{
		labels: labels,
		index: func(t time.Time) int {
			if idx, ok := positions[periodLabel(t, groupBy)]; ok {
				return idx
			}
			return -1
		},
	}, nil
}

func validGroupBy(groupBy revenue.GroupBy) bool {
	switch groupBy {
	case revenue.GroupByDay, revenue.GroupByWeek, revenue.GroupByMonth, revenue.GroupByQuarter:
		return true
	}
	return false
}

func periodStart(value time.Time, groupBy revenue.GroupBy) time.Time {
	value = value.UTC()
	switch groupBy {
	case revenue.GroupByWeek:
		day := truncateToDay(value)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case revenue.GroupByMonth:
		return truncateToMonth(value)
	case revenue.GroupByQuarter:
		first := time.Month((int(value.Month())-1)/3*3 + 1)
		return time.Date(value.Year(), first, 1, 0, 0, 0, 0, time.UTC)
	default:
		return truncateToDay(value)
	}
}

func nextPeriod(value time.Time, groupBy revenue.GroupBy) time.Time {
	switch groupBy {
	case revenue.GroupByWeek:
		return value.AddDate(0, 0, 7)
	case revenue.GroupByMonth:
		return value.AddDate(0, 1, 0)
	case revenue.GroupByQuarter:
		return value.AddDate(0, 3, 0)
	default:
		return value.AddDate(0, 0, 1)
	}
}

func periodLabel(value time.Time, groupBy revenue.GroupBy) string {
	value = value.UTC()
	switch groupBy {
	case revenue.GroupByWeek:
		year, week := value.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case revenue.GroupByMonth:
		return value.Format("2006-01")
	case revenue.GroupByQuarter:
		return fmt.Sprintf("%04d-Q%d", value.Year(), (int(value.Month())-1)/3+1)
	default:
		return value.Format("2006-01-02")
	}
}

// normalizeRange truncates start to its day and extends end through the
// last instant of its day.
func normalizeRange(start, end time.Time) (time.Time, time.Time, error) {
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, revenue.ErrInvalidDateRange
	}
	start = truncateToDay(start.UTC())
	end = endOfDay(end.UTC())
	if end.Before(start) {
		return time.Time{}, time.Time{}, revenue.ErrInvalidDateRange
	}
	return start, end, nil
}

func endOfDay(value time.Time) time.Time {
	return truncateToDay(value).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func truncateToDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func validYear(year int) bool {
	return year >= 1 && year <= 9999
}
