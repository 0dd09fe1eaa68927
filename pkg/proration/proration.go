// Package proration computes the credit for unused time on a plan when an
// organization changes plans mid-period.
package proration

import (
	"math"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/shopspring/decimal"
)

// Calculator applies linear daily proration.
type Calculator struct{}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateProration credits the unused whole days of sub's period at the
// current plan's price for sub's cycle:
//
//	credit = remainingDays / cycleDays * price
//
// The result is clamped to [0, price] and rounded to cents. next is not used
// by the linear formula. The price is the plan's list price, so a trial row
// charged nothing still earns credit for its remaining days.
func (c *Calculator) CalculateProration(sub *subscriptions.Subscription, current, next *plans.Plan, now time.Time) decimal.Decimal {
	if sub == nil || current == nil {
		return decimal.Zero
	}
	price := current.PriceFor(sub.BillingCycle)
	if !price.IsPositive() {
		return decimal.Zero
	}

	cycleDays := sub.BillingCycle.Days()
	remaining := RemainingDays(now, sub.EndDate)
	if remaining > cycleDays {
		remaining = cycleDays
	}

	credit := price.Mul(decimal.NewFromInt(int64(remaining))).Div(decimal.NewFromInt(int64(cycleDays)))
	return credit.Round(2)
}

// RemainingDays returns the whole days from now until end, or zero once end
// has passed.
func RemainingDays(now, end time.Time) int {
	if !end.After(now) {
		return 0
	}
	return int(math.Floor(end.Sub(now).Hours() / 24))
}
