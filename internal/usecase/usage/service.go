package usage

import (
	"context"
	"sort"
	"time"
)

// Period selects the reporting window.
type Period string

// Reporting periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ProviderUsage is the token spend of one embedding provider in a window.
type ProviderUsage struct {
	Provider  string
	Limit     int64 // 0 means unlimited
	Used      int64
	Remaining int64 // -1 means unlimited
	Exhausted bool
}

// Report aggregates token usage across providers for one window.
type Report struct {
	Period      Period
	WindowStart int64 // unix millis
	WindowEnd   int64
	Providers   []ProviderUsage
}

// Service handles usage reporting.
type Service struct {
	readers map[string]BudgetReader
}

// New creates a Service. readers may be empty (no budgets configured).
func New(readers map[string]BudgetReader) *Service {
	return &Service{readers: readers}
}

// GetReport builds a usage report for the given period. Unknown periods
// default to the daily window.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := time.Now().UTC()

	var start, end time.Time
	switch period {
	case PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		period = PeriodDay
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.Add(24 * time.Hour)
	}

	report := Report{
		Period:      period,
		WindowStart: start.UnixMilli(),
		WindowEnd:   end.UnixMilli(),
	}

	names := make([]string, 0, len(s.readers))
	for name := range s.readers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		br := s.readers[name]
		var limit, used, remaining int64
		if period == PeriodMonth {
			limit = br.MonthlyLimit()
			used = br.MonthlyUsed()
			remaining = br.RemainingMonthly()
		} else {
			limit = br.DailyLimit()
			used = br.DailyUsed()
			remaining = br.RemainingDaily()
		}
		report.Providers = append(report.Providers, ProviderUsage{
			Provider:  name,
			Limit:     limit,
			Used:      used,
			Remaining: remaining,
			Exhausted: limit > 0 && remaining <= 0,
		})
	}

	return report
}
