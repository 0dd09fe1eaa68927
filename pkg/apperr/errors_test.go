package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	detailed := ErrPlanNotFound.Withf("id %d", 42)

	assert.True(t, errors.Is(detailed, ErrPlanNotFound))
	assert.False(t, errors.Is(detailed, ErrSubscriptionNotFound))
	assert.Equal(t, "PLAN_NOT_FOUND: plan not found: id 42", detailed.Error())

	wrapped := fmt.Errorf("lookup: %w", detailed)
	assert.True(t, errors.Is(wrapped, ErrPlanNotFound))
}

func TestWithfDoesNotMutateSentinel(t *testing.T) {
	_ = ErrNotActive.Withf("subscription %d", 7)
	assert.Equal(t, "subscription is not active", ErrNotActive.Message)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", ErrPlanUnavailable, KindValidation},
		{"conflict", ErrPriceOrder.Withf("x"), KindStateConflict},
		{"not found wrapped", fmt.Errorf("ctx: %w", ErrGrantNotFound), KindNotFound},
		{"authorization", ErrTenantMismatch, KindAuthorization},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsDomain(t *testing.T) {
	assert.False(t, IsDomain(nil))
	assert.False(t, IsDomain(errors.New("db down")))
	assert.False(t, IsDomain(ErrInternal))
	assert.True(t, IsDomain(ErrNotPending))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("unique violation")
	err := ErrDuplicate.Wrap(cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Equal(t, "DUPLICATE", CodeOf(err))
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(cause))
}
