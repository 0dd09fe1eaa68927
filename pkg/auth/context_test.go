package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/contextkeys"
)

func TestRequestContextValidate(t *testing.T) {
	tests := []struct {
		name    string
		rc      RequestContext
		wantErr error
	}{
		{"valid", RequestContext{OrganizationID: 1, UserID: 2}, nil},
		{"missing user", RequestContext{OrganizationID: 1}, apperr.ErrMissingContext},
		{"missing tenant", RequestContext{UserID: 2}, apperr.ErrMissingContext},
		{"admin without tenant", RequestContext{UserID: 2, IsPlatformAdmin: true}, nil},
		{"system", System(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr))
			assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
		})
	}
}

func TestRequestContextAuthorize(t *testing.T) {
	member := RequestContext{OrganizationID: 1, UserID: 2}

	assert.NoError(t, member.Authorize(1))
	assert.True(t, errors.Is(member.Authorize(9), apperr.ErrTenantMismatch))

	admin := RequestContext{OrganizationID: 1, UserID: 2, IsPlatformAdmin: true}
	assert.NoError(t, admin.Authorize(9))
}

func TestActor(t *testing.T) {
	assert.Nil(t, System().Actor())

	actor := RequestContext{OrganizationID: 1, UserID: 5}.Actor()
	require.NotNil(t, actor)
	assert.Equal(t, int64(5), *actor)
}

func TestNewContextRoundTrip(t *testing.T) {
	rc := RequestContext{OrganizationID: 3, UserID: 4, RequestID: "req-1"}
	ctx := NewContext(context.Background(), rc)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, rc, got)
	assert.Equal(t, "req-1", ctx.Value(contextkeys.RequestIDKey))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
