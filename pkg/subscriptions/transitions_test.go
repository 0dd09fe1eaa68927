package subscriptions

import (
	"errors"
	"testing"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func actor(id int64) *int64 { return &id }

func TestNewPending(t *testing.T) {
	plan := &plans.Plan{ID: 1, Code: "P", MonthlyPrice: decimal.NewFromInt(100), TrialDays: 14, IsActive: true}

	sub, err := NewPending(NewRow{OrganizationID: 1, Plan: plan, Cycle: plans.Monthly, Start: t0, Amount: plan.MonthlyPrice, Now: t0})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, sub.Status)
	assert.Equal(t, t0.AddDate(0, 0, 30), sub.EndDate)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, t0.AddDate(0, 0, 14), *sub.TrialEndsAt)
	assert.Nil(t, sub.ActivatedAt)

	_, err = NewPending(NewRow{OrganizationID: 1, Plan: plan, Cycle: "WEEKLY", Start: t0})
	assert.True(t, errors.Is(err, apperr.ErrInvalidCycle))

	_, err = NewPending(NewRow{Plan: plan, Cycle: plans.Monthly})
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
}

func TestNewTrial(t *testing.T) {
	withTrial := &plans.Plan{ID: 1, MonthlyPrice: decimal.NewFromInt(50), TrialDays: 7}
	sub, err := NewTrial(NewRow{OrganizationID: 1, Plan: withTrial, Cycle: plans.Monthly, Start: t0, By: actor(3), Now: t0})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, t0.AddDate(0, 0, 7), sub.EndDate)
	assert.Equal(t, sub.EndDate, *sub.TrialEndsAt)
	assert.True(t, sub.TotalAmount.IsZero())
	require.NotNil(t, sub.ActivatedAt)
	assert.Equal(t, int64(3), *sub.ActivatedBy)

	_, err = NewTrial(NewRow{OrganizationID: 1, Plan: &plans.Plan{ID: 2}, Cycle: plans.Monthly, Start: t0})
	assert.True(t, errors.Is(err, apperr.ErrTrialNotOffered))
}

func TestTransitions(t *testing.T) {
	row := func(status Status) *Subscription {
		return &Subscription{ID: 9, OrganizationID: 1, PlanID: 1, Status: status, BillingCycle: plans.Monthly, StartDate: t0, EndDate: t0.AddDate(0, 0, 30)}
	}

	tests := []struct {
		name    string
		apply   func(*Subscription) (*Subscription, error)
		from    Status
		want    Status
		wantErr error
	}{
		{"activate pending", func(s *Subscription) (*Subscription, error) { return Activate(s, nil, t0) }, StatusPending, StatusActive, nil},
		{"activate pending upgrade", func(s *Subscription) (*Subscription, error) { return Activate(s, nil, t0) }, StatusPendingUpgrade, StatusActive, nil},
		{"activate active", func(s *Subscription) (*Subscription, error) { return Activate(s, nil, t0) }, StatusActive, "", apperr.ErrAlreadyActive},
		{"activate expired", func(s *Subscription) (*Subscription, error) { return Activate(s, nil, t0) }, StatusExpired, "", apperr.ErrTerminal},
		{"reject pending", func(s *Subscription) (*Subscription, error) { return Reject(s, "no", nil, t0) }, StatusPending, StatusCancelled, nil},
		{"reject active", func(s *Subscription) (*Subscription, error) { return Reject(s, "no", nil, t0) }, StatusActive, "", apperr.ErrNotPending},
		{"expire active", func(s *Subscription) (*Subscription, error) { return Expire(s, nil, t0) }, StatusActive, StatusExpired, nil},
		{"expire pending", func(s *Subscription) (*Subscription, error) { return Expire(s, nil, t0) }, StatusPending, StatusExpired, nil},
		{"expire cancelled", func(s *Subscription) (*Subscription, error) { return Expire(s, nil, t0) }, StatusCancelled, "", apperr.ErrTerminal},
		{"cancel active", func(s *Subscription) (*Subscription, error) { return Cancel(s, "r", nil, t0) }, StatusActive, StatusCancelled, nil},
		{"cancel pending", func(s *Subscription) (*Subscription, error) { return Cancel(s, "r", nil, t0) }, StatusPending, "", apperr.ErrNotActive},
		{"pending upgrade from active", func(s *Subscription) (*Subscription, error) { return MarkPendingUpgrade(s, 5, nil, t0) }, StatusActive, StatusPendingUpgrade, nil},
		{"pending upgrade from pending", func(s *Subscription) (*Subscription, error) { return MarkPendingUpgrade(s, 5, nil, t0) }, StatusPending, "", apperr.ErrNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := row(tt.from)
			got, err := tt.apply(before)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.from, before.Status, "input row must not change")
			assert.Equal(t, t0, got.UpdatedAt)
		})
	}
}

func TestRejectAndCancelRecordReason(t *testing.T) {
	sub := &Subscription{ID: 1, Status: StatusPending}
	got, err := Reject(sub, "payment missing", actor(4), t0)
	require.NoError(t, err)
	assert.Equal(t, "payment missing", got.CancellationReason)
	assert.Equal(t, int64(4), *got.CancelledBy)
	assert.Equal(t, t0, *got.CancelledAt)
}

func TestExtendTrial(t *testing.T) {
	trialEnd := t0.AddDate(0, 0, 7)
	trial := &Subscription{ID: 1, Status: StatusActive, StartDate: t0, EndDate: trialEnd, TrialEndsAt: &trialEnd}

	t.Run("moves trial and end date", func(t *testing.T) {
		got, err := ExtendTrial(trial, 5, nil, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, trialEnd.AddDate(0, 0, 5), *got.TrialEndsAt)
		assert.Equal(t, trialEnd.AddDate(0, 0, 5), got.EndDate)
		assert.Equal(t, trialEnd, *trial.TrialEndsAt, "input row must not change")
	})

	t.Run("keeps a longer paid period", func(t *testing.T) {
		pending := &Subscription{ID: 2, Status: StatusPending, StartDate: t0, EndDate: t0.AddDate(0, 0, 30), TrialEndsAt: &trialEnd}
		got, err := ExtendTrial(pending, 3, nil, t0)
		require.NoError(t, err)
		assert.Equal(t, t0.AddDate(0, 0, 30), got.EndDate)
		assert.Equal(t, trialEnd.AddDate(0, 0, 3), *got.TrialEndsAt)
	})

	t.Run("rejects non-positive days", func(t *testing.T) {
		_, err := ExtendTrial(trial, 0, nil, t0)
		assert.True(t, errors.Is(err, apperr.ErrInvalidTrialDays))
	})

	t.Run("rejects ended trial", func(t *testing.T) {
		_, err := ExtendTrial(trial, 1, nil, trialEnd.Add(time.Minute))
		assert.True(t, errors.Is(err, apperr.ErrNotInTrial))
	})

	t.Run("rejects row without trial", func(t *testing.T) {
		_, err := ExtendTrial(&Subscription{ID: 3, Status: StatusActive}, 1, nil, t0)
		assert.True(t, errors.Is(err, apperr.ErrNotInTrial))
	})

	t.Run("rejects terminal row", func(t *testing.T) {
		expired := *trial
		expired.Status = StatusExpired
		_, err := ExtendTrial(&expired, 1, nil, t0)
		assert.True(t, errors.Is(err, apperr.ErrTerminal))
	})
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusActive.IsCurrent())
	assert.True(t, StatusPendingUpgrade.IsCurrent())
	assert.False(t, StatusPending.IsCurrent())
	assert.True(t, StatusExpired.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
}
