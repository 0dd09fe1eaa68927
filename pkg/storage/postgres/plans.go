package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
)

const planColumns = `id, code, name, monthly_price, yearly_price, trial_days, max_users,
	is_active, is_custom, organization_id, display_order, created_at, updated_at`

// PlanStore implements plans.Store.
type PlanStore struct {
	q querier
}

var _ plans.Store = (*PlanStore)(nil)

func (s *PlanStore) GetPlanByID(ctx context.Context, id int64) (*plans.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	plan, err := scanPlan(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrPlanNotFound.Withf("plan %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

func (s *PlanStore) GetPlanByCode(ctx context.Context, code string) (*plans.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE code = $1`
	plan, err := scanPlan(s.q.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrPlanNotFound.Withf("plan %s", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPublicPlans returns every non-custom plan, active or not.
func (s *PlanStore) ListPublicPlans(ctx context.Context) ([]*plans.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE NOT is_custom ORDER BY display_order, id`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []*plans.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func (s *PlanStore) CreatePlan(ctx context.Context, plan *plans.Plan) error {
	query := `
		INSERT INTO subscription_plans (code, name, monthly_price, yearly_price, trial_days, max_users,
			is_active, is_custom, organization_id, display_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	var maxUsers interface{}
	if plan.MaxUsers != nil {
		maxUsers = int64(*plan.MaxUsers)
	}
	err := s.q.QueryRowContext(ctx, query,
		plan.Code,
		plan.Name,
		plan.MonthlyPrice,
		plan.YearlyPrice,
		plan.TrialDays,
		maxUsers,
		plan.IsActive,
		plan.IsCustom,
		plan.OrganizationID,
		plan.DisplayOrder,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Scan(&plan.ID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperr.ErrDuplicate.Withf("plan code %s", plan.Code).Wrap(err)
		}
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (s *PlanStore) ListPlanModules(ctx context.Context, planID int64) ([]*plans.PlanModule, error) {
	query := `
		SELECT id, plan_id, module_id, is_included, license_type, max_users_per_module
		FROM plan_modules
		WHERE plan_id = $1
		ORDER BY module_id
	`
	rows, err := s.q.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan modules: %w", err)
	}
	defer rows.Close()

	var out []*plans.PlanModule
	for rows.Next() {
		var (
			pm          plans.PlanModule
			licenseType string
			maxUsers    sql.NullInt32
		)
		if err := rows.Scan(&pm.ID, &pm.PlanID, &pm.ModuleID, &pm.IsIncluded, &licenseType, &maxUsers); err != nil {
			return nil, fmt.Errorf("failed to scan plan module: %w", err)
		}
		pm.LicenseType = plans.LicenseType(licenseType)
		pm.MaxUsersPerModule = nullInt(maxUsers)
		out = append(out, &pm)
	}
	return out, rows.Err()
}

// UpsertPlanModule inserts the row or overwrites the one for the same
// (plan, module).
func (s *PlanStore) UpsertPlanModule(ctx context.Context, pm *plans.PlanModule) error {
	query := `
		INSERT INTO plan_modules (plan_id, module_id, is_included, license_type, max_users_per_module)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (plan_id, module_id) DO UPDATE SET
			is_included = EXCLUDED.is_included,
			license_type = EXCLUDED.license_type,
			max_users_per_module = EXCLUDED.max_users_per_module
		RETURNING id
	`

	licenseType := pm.LicenseType
	if licenseType == "" {
		licenseType = plans.LicenseStandard
	}
	var maxUsers interface{}
	if pm.MaxUsersPerModule != nil {
		maxUsers = int64(*pm.MaxUsersPerModule)
	}
	if err := s.q.QueryRowContext(ctx, query,
		pm.PlanID,
		pm.ModuleID,
		pm.IsIncluded,
		string(licenseType),
		maxUsers,
	).Scan(&pm.ID); err != nil {
		return fmt.Errorf("failed to upsert plan module: %w", err)
	}
	return nil
}

func scanPlan(row scanner) (*plans.Plan, error) {
	var (
		plan     plans.Plan
		maxUsers sql.NullInt32
		orgID    sql.NullInt64
	)
	err := row.Scan(
		&plan.ID,
		&plan.Code,
		&plan.Name,
		&plan.MonthlyPrice,
		&plan.YearlyPrice,
		&plan.TrialDays,
		&maxUsers,
		&plan.IsActive,
		&plan.IsCustom,
		&orgID,
		&plan.DisplayOrder,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.MaxUsers = nullInt(maxUsers)
	plan.OrganizationID = nullInt64(orgID)
	return &plan, nil
}
