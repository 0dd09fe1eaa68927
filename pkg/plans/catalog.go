package plans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/modules"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// CacheConfig sizes the catalog read cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// DefaultCacheConfig returns the cache settings used when none are given.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Size: 256, TTL: 5 * time.Minute}
}

type planCache struct {
	plans   *lru.LRU[int64, *Plan]
	modules *lru.LRU[int64, []*PlanModule]
	group   singleflight.Group
}

// Catalog answers plan availability, pricing and module questions, and builds
// organization-scoped custom plans.
type Catalog struct {
	store   Store
	modules modules.Catalog
	cache   *planCache
	// bypass disables cache reads for transaction-bound catalogs.
	bypass bool
	now    func() time.Time
}

// NewCatalog creates a catalog over store.
func NewCatalog(store Store, mods modules.Catalog, cfg CacheConfig) *Catalog {
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheConfig().Size
	}
	return &Catalog{
		store:   store,
		modules: mods,
		cache: &planCache{
			plans:   lru.NewLRU[int64, *Plan](cfg.Size, nil, cfg.TTL),
			modules: lru.NewLRU[int64, []*PlanModule](cfg.Size, nil, cfg.TTL),
		},
		now: time.Now,
	}
}

// WithStore returns a catalog that reads and writes through store, sharing
// this catalog's cache for invalidation only.
func (c *Catalog) WithStore(store Store) *Catalog {
	cp := *c
	cp.store = store
	cp.bypass = true
	return &cp
}

// WithClock overrides the clock used for timestamps.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	cp := *c
	cp.now = now
	return &cp
}

// GetPlan returns the plan with id.
func (c *Catalog) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	if c.bypass {
		return c.store.GetPlanByID(ctx, id)
	}
	if p, ok := c.cache.plans.Get(id); ok {
		return clonePlan(p), nil
	}
	v, err, _ := c.cache.group.Do("plan:"+strconv.FormatInt(id, 10), func() (interface{}, error) {
		p, err := c.store.GetPlanByID(ctx, id)
		if err != nil {
			return nil, err
		}
		c.cache.plans.Add(id, clonePlan(p))
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePlan(v.(*Plan)), nil
}

// GetPlanByCode returns the plan with code. Lookups by code are not cached.
func (c *Catalog) GetPlanByCode(ctx context.Context, code string) (*Plan, error) {
	return c.store.GetPlanByCode(ctx, code)
}

// ListPlans returns the active public plans ordered for display.
func (c *Catalog) ListPlans(ctx context.Context) ([]*Plan, error) {
	all, err := c.store.ListPublicPlans(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Plan, 0, len(all))
	for _, p := range all {
		if c.IsAvailable(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

// IsAvailable reports whether new subscriptions may use plan.
func (c *Catalog) IsAvailable(plan *Plan) bool {
	return plan != nil && plan.IsActive
}

// PriceForCycle returns plan's price for cycle.
func (c *Catalog) PriceForCycle(plan *Plan, cycle BillingCycle) decimal.Decimal {
	return plan.PriceFor(cycle)
}

// PlanModules returns every module row of the plan.
func (c *Catalog) PlanModules(ctx context.Context, planID int64) ([]*PlanModule, error) {
	if c.bypass {
		return c.store.ListPlanModules(ctx, planID)
	}
	if pms, ok := c.cache.modules.Get(planID); ok {
		return clonePlanModules(pms), nil
	}
	v, err, _ := c.cache.group.Do("modules:"+strconv.FormatInt(planID, 10), func() (interface{}, error) {
		pms, err := c.store.ListPlanModules(ctx, planID)
		if err != nil {
			return nil, err
		}
		c.cache.modules.Add(planID, clonePlanModules(pms))
		return pms, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePlanModules(v.([]*PlanModule)), nil
}

// IncludedModules returns the plan's modules with IsIncluded set.
func (c *Catalog) IncludedModules(ctx context.Context, planID int64) ([]*PlanModule, error) {
	pms, err := c.PlanModules(ctx, planID)
	if err != nil {
		return nil, err
	}
	out := pms[:0]
	for _, pm := range pms {
		if pm.IsIncluded {
			out = append(out, pm)
		}
	}
	return out, nil
}

// PlanModule returns the row for moduleID in planID.
func (c *Catalog) PlanModule(ctx context.Context, planID, moduleID int64) (*PlanModule, error) {
	pms, err := c.PlanModules(ctx, planID)
	if err != nil {
		return nil, err
	}
	for _, pm := range pms {
		if pm.ModuleID == moduleID {
			return pm, nil
		}
	}
	return nil, apperr.ErrModuleNotInPlan.Withf("plan %d module %d", planID, moduleID)
}

// IsModuleInPlan reports whether moduleID is included in planID.
func (c *Catalog) IsModuleInPlan(ctx context.Context, planID, moduleID int64) (bool, error) {
	pm, err := c.PlanModule(ctx, planID, moduleID)
	if err != nil {
		if errors.Is(err, apperr.ErrModuleNotInPlan) {
			return false, nil
		}
		return false, err
	}
	return pm.IsIncluded, nil
}

// CreateCustomPlan builds a plan scoped to orgID that includes every module of
// base plus moduleIDs. Prices, trial and user limits are copied from base.
func (c *Catalog) CreateCustomPlan(ctx context.Context, orgID int64, base *Plan, moduleIDs []int64) (*Plan, error) {
	if orgID <= 0 || base == nil {
		return nil, apperr.ErrInvalidRequest.Withf("organization and base plan are required")
	}
	if err := c.validateModules(ctx, moduleIDs); err != nil {
		return nil, err
	}

	now := c.now()
	org := orgID
	plan := &Plan{
		Code:           customPlanCode(orgID, uuid.NewString()[:8]),
		Name:           fmt.Sprintf("%s (custom)", base.Name),
		MonthlyPrice:   base.MonthlyPrice,
		YearlyPrice:    base.YearlyPrice,
		TrialDays:      base.TrialDays,
		MaxUsers:       base.MaxUsers,
		IsActive:       true,
		IsCustom:       true,
		OrganizationID: &org,
		DisplayOrder:   base.DisplayOrder,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create custom plan: %w", err)
	}

	baseModules, err := c.store.ListPlanModules(ctx, base.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list base plan modules: %w", err)
	}
	seen := make(map[int64]bool)
	for _, pm := range baseModules {
		if !pm.IsIncluded {
			continue
		}
		seen[pm.ModuleID] = true
		row := &PlanModule{
			PlanID:            plan.ID,
			ModuleID:          pm.ModuleID,
			IsIncluded:        true,
			LicenseType:       pm.LicenseType,
			MaxUsersPerModule: pm.MaxUsersPerModule,
		}
		if err := c.store.UpsertPlanModule(ctx, row); err != nil {
			return nil, fmt.Errorf("failed to copy plan module %d: %w", pm.ModuleID, err)
		}
	}
	for _, id := range moduleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		row := &PlanModule{PlanID: plan.ID, ModuleID: id, IsIncluded: true, LicenseType: LicenseStandard}
		if err := c.store.UpsertPlanModule(ctx, row); err != nil {
			return nil, fmt.Errorf("failed to add plan module %d: %w", id, err)
		}
	}
	return plan, nil
}

// AddModulesToCustomPlan includes moduleIDs in a custom plan. Modules already
// present are re-included with their existing limits.
func (c *Catalog) AddModulesToCustomPlan(ctx context.Context, plan *Plan, moduleIDs []int64) error {
	if plan == nil || !plan.IsCustom {
		return apperr.ErrNotCustomPlan
	}
	if err := c.validateModules(ctx, moduleIDs); err != nil {
		return err
	}

	existing, err := c.store.ListPlanModules(ctx, plan.ID)
	if err != nil {
		return fmt.Errorf("failed to list plan modules: %w", err)
	}
	byModule := make(map[int64]*PlanModule, len(existing))
	for _, pm := range existing {
		byModule[pm.ModuleID] = pm
	}
	for _, id := range moduleIDs {
		row, ok := byModule[id]
		if !ok {
			row = &PlanModule{PlanID: plan.ID, ModuleID: id, LicenseType: LicenseStandard}
		}
		row.IsIncluded = true
		if err := c.store.UpsertPlanModule(ctx, row); err != nil {
			return fmt.Errorf("failed to add plan module %d: %w", id, err)
		}
	}
	c.Invalidate(plan.ID)
	return nil
}

// Invalidate drops cached data for planID.
func (c *Catalog) Invalidate(planID int64) {
	c.cache.plans.Remove(planID)
	c.cache.modules.Remove(planID)
}

func (c *Catalog) validateModules(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return apperr.ErrInvalidRequest.Withf("at least one module is required")
	}
	found, err := c.modules.GetModulesByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to look up modules: %w", err)
	}
	byID := modules.IndexByID(found)
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return apperr.ErrModuleNotFound.Withf("module %d", id)
		}
		available, err := c.modules.ModuleIsAvailable(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to check module %d: %w", id, err)
		}
		if !available {
			return apperr.ErrModuleUnavailable.Withf("module %d", id)
		}
	}
	return nil
}

func clonePlan(p *Plan) *Plan {
	cp := *p
	return &cp
}

func clonePlanModules(pms []*PlanModule) []*PlanModule {
	out := make([]*PlanModule, len(pms))
	for i, pm := range pms {
		cp := *pm
		out[i] = &cp
	}
	return out
}
