package memory

import (
	"context"
	"sort"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
)

// PlanStore implements plans.Store.
type PlanStore struct {
	h handle
}

var _ plans.Store = (*PlanStore)(nil)

func (s *PlanStore) GetPlanByID(ctx context.Context, id int64) (*plans.Plan, error) {
	var (
		plan plans.Plan
		ok   bool
	)
	s.h.read(func(d *dataset) {
		plan, ok = d.plans[id]
	})
	if !ok {
		return nil, apperr.ErrPlanNotFound.Withf("plan %d", id)
	}
	return &plan, nil
}

func (s *PlanStore) GetPlanByCode(ctx context.Context, code string) (*plans.Plan, error) {
	var found *plans.Plan
	s.h.read(func(d *dataset) {
		for _, p := range d.plans {
			if p.Code == code {
				p := p
				found = &p
				return
			}
		}
	})
	if found == nil {
		return nil, apperr.ErrPlanNotFound.Withf("plan %s", code)
	}
	return found, nil
}

func (s *PlanStore) ListPublicPlans(ctx context.Context) ([]*plans.Plan, error) {
	var out []*plans.Plan
	s.h.read(func(d *dataset) {
		for _, p := range d.plans {
			if !p.IsCustom {
				p := p
				out = append(out, &p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *PlanStore) CreatePlan(ctx context.Context, plan *plans.Plan) error {
	return s.h.write(func(d *dataset) error {
		for _, p := range d.plans {
			if p.Code == plan.Code {
				return apperr.ErrDuplicate.Withf("plan code %s", plan.Code)
			}
		}
		plan.ID = d.next("plans")
		d.plans[plan.ID] = *plan
		return nil
	})
}

func (s *PlanStore) ListPlanModules(ctx context.Context, planID int64) ([]*plans.PlanModule, error) {
	var out []*plans.PlanModule
	s.h.read(func(d *dataset) {
		for _, pm := range d.planModules {
			if pm.PlanID == planID {
				pm := pm
				out = append(out, &pm)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}

// UpsertPlanModule inserts the row or overwrites the one for the same
// (plan, module).
func (s *PlanStore) UpsertPlanModule(ctx context.Context, pm *plans.PlanModule) error {
	return s.h.write(func(d *dataset) error {
		if _, ok := d.plans[pm.PlanID]; !ok {
			return apperr.ErrPlanNotFound.Withf("plan %d", pm.PlanID)
		}
		for id, existing := range d.planModules {
			if existing.PlanID == pm.PlanID && existing.ModuleID == pm.ModuleID {
				pm.ID = id
				d.planModules[id] = *pm
				return nil
			}
		}
		pm.ID = d.next("plan_modules")
		d.planModules[pm.ID] = *pm
		return nil
	})
}

// AddPlan seeds a plan with its module rows and returns the plan id.
func (db *DB) AddPlan(plan plans.Plan, rows ...plans.PlanModule) int64 {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	d := db.data
	if plan.ID == 0 {
		plan.ID = d.next("plans")
	} else if plan.ID > d.seq["plans"] {
		d.seq["plans"] = plan.ID
	}
	d.plans[plan.ID] = plan
	for _, pm := range rows {
		pm.PlanID = plan.ID
		pm.ID = d.next("plan_modules")
		d.planModules[pm.ID] = pm
	}
	return plan.ID
}
