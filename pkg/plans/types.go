package plans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/shopspring/decimal"
)

// BillingCycle is the length of a paid subscription period.
type BillingCycle string

const (
	Monthly BillingCycle = "MONTHLY"
	Yearly  BillingCycle = "YEARLY"
)

// Valid reports whether c is a known cycle.
func (c BillingCycle) Valid() bool {
	return c == Monthly || c == Yearly
}

// Days returns the cycle length in days.
func (c BillingCycle) Days() int {
	if c == Yearly {
		return 365
	}
	return 30
}

// End returns the end of a period of this cycle starting at start.
func (c BillingCycle) End(start time.Time) time.Time {
	return start.AddDate(0, 0, c.Days())
}

// ParseBillingCycle parses a cycle name case-insensitively.
func ParseBillingCycle(s string) (BillingCycle, error) {
	c := BillingCycle(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", apperr.ErrInvalidCycle.Withf("%q", s)
	}
	return c, nil
}

// LicenseType describes how a bundled module is licensed.
type LicenseType string

const (
	LicenseStandard   LicenseType = "STANDARD"
	LicensePremium    LicenseType = "PREMIUM"
	LicenseEnterprise LicenseType = "ENTERPRISE"
)

// Plan is a pricing plan. Plans referenced by a ledger row are never edited,
// except the module list of a custom plan.
type Plan struct {
	ID             int64           `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	MonthlyPrice   decimal.Decimal `json:"monthly_price"`
	YearlyPrice    decimal.Decimal `json:"yearly_price"`
	TrialDays      int             `json:"trial_days"`
	MaxUsers       *int            `json:"max_users,omitempty"`
	IsActive       bool            `json:"is_active"`
	IsCustom       bool            `json:"is_custom"`
	OrganizationID *int64          `json:"organization_id,omitempty"`
	DisplayOrder   int             `json:"display_order"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsFree reports whether the plan costs nothing in either cycle.
func (p *Plan) IsFree() bool {
	return p.MonthlyPrice.IsZero() && p.YearlyPrice.IsZero()
}

// OffersTrial reports whether a trial can be started on the plan.
func (p *Plan) OffersTrial() bool {
	return p.TrialDays > 0
}

// PriceFor returns the plan price for cycle.
func (p *Plan) PriceFor(cycle BillingCycle) decimal.Decimal {
	if cycle == Yearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// BelongsTo reports whether p is the custom plan of orgID.
func (p *Plan) BelongsTo(orgID int64) bool {
	return p.IsCustom && p.OrganizationID != nil && *p.OrganizationID == orgID
}

// PlanModule declares whether a module is bundled in a plan.
type PlanModule struct {
	ID                int64       `json:"id"`
	PlanID            int64       `json:"plan_id"`
	ModuleID          int64       `json:"module_id"`
	IsIncluded        bool        `json:"is_included"`
	LicenseType       LicenseType `json:"license_type"`
	MaxUsersPerModule *int        `json:"max_users_per_module,omitempty"`
}

// customPlanCode names the organization-scoped plan derived from a base plan.
func customPlanCode(orgID int64, suffix string) string {
	return fmt.Sprintf("CUSTOM-ORG-%d-%s", orgID, suffix)
}

// Store persists plans and plan modules.
type Store interface {
	GetPlanByID(ctx context.Context, id int64) (*Plan, error)
	GetPlanByCode(ctx context.Context, code string) (*Plan, error)
	ListPublicPlans(ctx context.Context) ([]*Plan, error)
	CreatePlan(ctx context.Context, plan *Plan) error
	ListPlanModules(ctx context.Context, planID int64) ([]*PlanModule, error)
	UpsertPlanModule(ctx context.Context, pm *PlanModule) error
}
