// Package plans owns subscription plans and the modules they bundle.
//
// A Catalog answers availability and pricing questions and builds the custom,
// organization-scoped plans used when an organization requests modules its
// plan does not include. Reads by id are cached in an expirable LRU and
// concurrent misses for the same plan share one store read.
//
//	catalog := plans.NewCatalog(store, moduleCatalog, plans.DefaultCacheConfig())
//	plan, err := catalog.GetPlan(ctx, planID)
//	price := catalog.PriceForCycle(plan, plans.Monthly)
package plans
