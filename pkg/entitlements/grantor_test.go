package entitlements

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/identity"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accessKey struct{ user, module, org int64 }

// fakeStore keeps records in a map; Atomically serializes on one mutex
type fakeStore struct {
	lock    sync.Mutex
	mu      sync.Mutex
	records map[accessKey]*Access
	nextID  int64
	failGet error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[accessKey]*Access{}}
}

func (s *fakeStore) Get(ctx context.Context, userID, moduleID, orgID int64) (*Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	a, ok := s.records[accessKey{userID, moduleID, orgID}]
	if !ok {
		return nil, apperr.ErrGrantNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) Insert(ctx context.Context, a *Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accessKey{a.UserID, a.ModuleID, a.OrganizationID}
	if _, ok := s.records[key]; ok {
		return apperr.ErrDuplicate
	}
	s.nextID++
	a.ID = s.nextID
	cp := *a
	s.records[key] = &cp
	return nil
}

func (s *fakeStore) Update(ctx context.Context, a *Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.records[accessKey{a.UserID, a.ModuleID, a.OrganizationID}] = &cp
	return nil
}

func (s *fakeStore) CountActive(ctx context.Context, moduleID, orgID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, a := range s.records {
		if k.module == moduleID && k.org == orgID && a.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListActive(ctx context.Context, orgID int64, moduleIDs []int64) ([]*Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[int64]bool{}
	for _, id := range moduleIDs {
		wanted[id] = true
	}
	var out []*Access
	for k, a := range s.records {
		if k.org == orgID && wanted[k.module] && a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) Atomically(ctx context.Context, orgID, moduleID int64, fn func(Store) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn(s)
}

// fakeDirectory records role assignments per user
type fakeDirectory struct {
	mu        sync.Mutex
	roles     map[int64][]identity.Role
	assigned  map[int64]map[int64]bool
	assignErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		roles: map[int64][]identity.Role{
			10: {{ID: 100, Name: "crm.viewer", ModuleID: 10}, {ID: 101, Name: "crm.editor", ModuleID: 10}},
		},
		assigned: map[int64]map[int64]bool{},
	}
}

func (d *fakeDirectory) GetRolesByModuleID(ctx context.Context, moduleID int64) ([]identity.Role, error) {
	return d.roles[moduleID], nil
}

func (d *fakeDirectory) AssignRolesToUser(ctx context.Context, userID, orgID int64, roles []identity.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.assignErr != nil {
		return d.assignErr
	}
	if d.assigned[userID] == nil {
		d.assigned[userID] = map[int64]bool{}
	}
	for _, r := range roles {
		d.assigned[userID][r.ID] = true
	}
	return nil
}

func (d *fakeDirectory) RemoveRolesFromUser(ctx context.Context, userID, orgID int64, roles []identity.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range roles {
		delete(d.assigned[userID], r.ID)
	}
	return nil
}

var now0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func limit(n int) *int { return &n }

func newTestGrantor() (*Grantor, *fakeStore, *fakeDirectory, *test.Hook) {
	store := newFakeStore()
	dir := newFakeDirectory()
	logger, hook := test.NewNullLogger()
	g := NewGrantor(store, dir, dir, logger).WithClock(func() time.Time { return now0 })
	return g, store, dir, hook
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	expires := now0.AddDate(0, 0, 30)

	t.Run("inserts and assigns roles", func(t *testing.T) {
		g, store, dir, _ := newTestGrantor()
		a, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5, ExpiresAt: &expires})
		require.NoError(t, err)
		assert.True(t, a.IsActive)
		assert.Equal(t, expires, *a.ExpiresAt)
		assert.Len(t, store.records, 1)
		assert.Equal(t, map[int64]bool{100: true, 101: true}, dir.assigned[1])
	})

	t.Run("refreshes active grant without a new seat", func(t *testing.T) {
		g, store, _, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5, MaxUsers: limit(1)})
		require.NoError(t, err)

		later := expires.AddDate(0, 1, 0)
		a, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5, MaxUsers: limit(1), ExpiresAt: &later})
		require.NoError(t, err)
		assert.Equal(t, later, *a.ExpiresAt)
		assert.Len(t, store.records, 1)
	})

	t.Run("reactivates revoked grant", func(t *testing.T) {
		g, store, _, _ := newTestGrantor()
		first, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)
		_, err = g.Revoke(ctx, RevokeRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)

		again, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.True(t, again.IsActive)
		assert.Nil(t, again.RevokedAt)
		assert.Len(t, store.records, 1)
	})

	t.Run("rejects when cap is full", func(t *testing.T) {
		g, _, _, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5, MaxUsers: limit(1)})
		require.NoError(t, err)

		_, err = g.Grant(ctx, GrantRequest{UserID: 2, ModuleID: 10, OrganizationID: 5, MaxUsers: limit(1)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrModuleCapacity))
		assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

		var capErr *CapacityError
		require.True(t, errors.As(err, &capErr))
		assert.Equal(t, 1, capErr.Current)
		assert.Equal(t, 1, capErr.Limit)
	})

	t.Run("cap is per organization", func(t *testing.T) {
		g, _, _, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5, MaxUsers: limit(1)})
		require.NoError(t, err)
		_, err = g.Grant(ctx, GrantRequest{UserID: 2, ModuleID: 10, OrganizationID: 6, MaxUsers: limit(1)})
		assert.NoError(t, err)
	})

	t.Run("validates ids", func(t *testing.T) {
		g, _, _, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{ModuleID: 10, OrganizationID: 5})
		assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
	})

	t.Run("role failure surfaces after grant", func(t *testing.T) {
		g, store, dir, _ := newTestGrantor()
		dir.assignErr = errors.New("directory unavailable")
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.Error(t, err)
		assert.False(t, apperr.IsDomain(err))
		assert.Len(t, store.records, 1)
	})

	t.Run("storage failure", func(t *testing.T) {
		g, store, _, _ := newTestGrantor()
		store.failGet = errors.New("connection refused")
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestGrantConcurrentRespectsCap(t *testing.T) {
	g, store, _, _ := newTestGrantor()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, _ = g.Grant(ctx, GrantRequest{UserID: user, ModuleID: 11, OrganizationID: 5, MaxUsers: limit(3)})
		}(int64(i))
	}
	wg.Wait()

	n, err := store.CountActive(ctx, 11, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("missing grant", func(t *testing.T) {
		g, _, _, _ := newTestGrantor()
		_, err := g.Revoke(ctx, RevokeRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		assert.True(t, errors.Is(err, apperr.ErrGrantNotFound))
	})

	t.Run("deactivates and removes roles", func(t *testing.T) {
		g, _, dir, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)

		a, err := g.Revoke(ctx, RevokeRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)
		assert.False(t, a.IsActive)
		require.NotNil(t, a.RevokedAt)
		assert.Empty(t, dir.assigned[1])

		has, err := g.HasAccess(ctx, 1, 10, 5)
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("second revoke is a no-op", func(t *testing.T) {
		g, _, _, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)
		first, err := g.Revoke(ctx, RevokeRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)
		second, err := g.Revoke(ctx, RevokeRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)
		assert.Equal(t, *first.RevokedAt, *second.RevokedAt)
	})
}

func TestBulkGrant(t *testing.T) {
	ctx := context.Background()

	t.Run("grants until cap and records the rest", func(t *testing.T) {
		g, _, dir, hook := newTestGrantor()
		res, err := g.BulkGrant(ctx, BulkGrantRequest{
			UserIDs:        []int64{1, 2, 3, 2, 4},
			ModuleID:       10,
			OrganizationID: 5,
			MaxUsers:       limit(2),
		})
		require.NoError(t, err)
		require.Len(t, res.Granted, 2)
		require.Len(t, res.Failed, 2)
		assert.Equal(t, int64(3), res.Failed[0].UserID)
		assert.Equal(t, int64(4), res.Failed[1].UserID)
		assert.True(t, errors.Is(res.Failed[0].Err, apperr.ErrModuleCapacity))
		assert.Len(t, dir.assigned, 2)

		warnings := 0
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				warnings++
			}
		}
		assert.Equal(t, 2, warnings)
	})

	t.Run("existing holders do not take new seats", func(t *testing.T) {
		g, _, _, _ := newTestGrantor()
		_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5})
		require.NoError(t, err)

		res, err := g.BulkGrant(ctx, BulkGrantRequest{UserIDs: []int64{1, 2}, ModuleID: 10, OrganizationID: 5, MaxUsers: limit(2)})
		require.NoError(t, err)
		assert.Len(t, res.Granted, 2)
		assert.Empty(t, res.Failed)
	})

	t.Run("storage failure aborts", func(t *testing.T) {
		g, store, _, _ := newTestGrantor()
		store.failGet = errors.New("timeout")
		_, err := g.BulkGrant(ctx, BulkGrantRequest{UserIDs: []int64{1}, ModuleID: 10, OrganizationID: 5})
		assert.Error(t, err)
	})
}

func TestHasAccessRespectsExpiry(t *testing.T) {
	g, _, _, _ := newTestGrantor()
	ctx := context.Background()
	past := now0.Add(-time.Hour)
	future := now0.Add(time.Hour)

	_, err := g.Grant(ctx, GrantRequest{UserID: 1, ModuleID: 10, OrganizationID: 5, ExpiresAt: &past})
	require.NoError(t, err)
	_, err = g.Grant(ctx, GrantRequest{UserID: 2, ModuleID: 10, OrganizationID: 5, ExpiresAt: &future})
	require.NoError(t, err)

	has, err := g.HasAccess(ctx, 1, 10, 5)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = g.HasAccess(ctx, 2, 10, 5)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = g.HasAccess(ctx, 3, 10, 5)
	require.NoError(t, err)
	assert.False(t, has)

	active, err := g.ListActive(ctx, 5, []int64{10})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	none, err := g.ListActive(ctx, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
