package proration

import (
	"testing"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateProration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	basic := &plans.Plan{ID: 1, MonthlyPrice: decimal.NewFromInt(100), YearlyPrice: decimal.NewFromInt(1000)}
	pro := &plans.Plan{ID: 2, MonthlyPrice: decimal.NewFromInt(200)}
	free := &plans.Plan{ID: 3}

	monthly := &subscriptions.Subscription{BillingCycle: plans.Monthly, StartDate: start, EndDate: plans.Monthly.End(start)}
	yearly := &subscriptions.Subscription{BillingCycle: plans.Yearly, StartDate: start, EndDate: plans.Yearly.End(start)}
	trialEnd := start.AddDate(0, 0, 14)
	trial := &subscriptions.Subscription{BillingCycle: plans.Monthly, StartDate: start, EndDate: trialEnd, TrialEndsAt: &trialEnd, TotalAmount: decimal.Zero}

	tests := []struct {
		name    string
		sub     *subscriptions.Subscription
		current *plans.Plan
		now     time.Time
		want    string
	}{
		{"full period unused", monthly, basic, start, "100"},
		{"ten days used", monthly, basic, start.AddDate(0, 0, 10), "66.67"},
		{"partial day rounds down", monthly, basic, start.AddDate(0, 0, 10).Add(time.Hour), "63.33"},
		{"period over", monthly, basic, start.AddDate(0, 0, 31), "0"},
		{"yearly cycle uses yearly price", yearly, basic, start.AddDate(0, 0, 65), "821.92"},
		{"free plan", monthly, free, start, "0"},
		{"before start clamps to price", monthly, basic, start.AddDate(0, 0, -5), "100"},
		// Credit follows the list price, not what the row was charged.
		{"unpaid trial earns list price credit", trial, basic, start, "46.67"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewCalculator().CalculateProration(tt.sub, tt.current, pro, tt.now)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestCalculateProrationNilInputs(t *testing.T) {
	c := NewCalculator()
	assert.True(t, c.CalculateProration(nil, nil, nil, time.Now()).IsZero())
}

func TestRemainingDays(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, RemainingDays(now, now))
	assert.Equal(t, 0, RemainingDays(now, now.Add(-time.Hour)))
	assert.Equal(t, 0, RemainingDays(now, now.Add(23*time.Hour)))
	assert.Equal(t, 3, RemainingDays(now, now.Add(73*time.Hour)))
}
