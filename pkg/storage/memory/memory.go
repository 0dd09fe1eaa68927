// Package memory is an in-process storage backend.
//
// Units of work and entitlement lock scopes are serialized by one mutex and
// rolled back by restoring a snapshot of the whole dataset. Writes made
// outside a unit of work wait for it to finish. Every read returns a copy.
package memory

import (
	"context"
	"sync"

	"github.com/dungkhmt/serp-sub000/pkg/entitlements"
	"github.com/dungkhmt/serp-sub000/pkg/identity"
	"github.com/dungkhmt/serp-sub000/pkg/modules"
	"github.com/dungkhmt/serp-sub000/pkg/orgs"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/storage"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
)

type userOrg struct {
	userID int64
	orgID  int64
}

type accessKey struct {
	userID   int64
	moduleID int64
	orgID    int64
}

type dataset struct {
	seq         map[string]int64
	subs        map[int64]subscriptions.Subscription
	plans       map[int64]plans.Plan
	planModules map[int64]plans.PlanModule
	orgs        map[int64]orgs.Organization
	outbox      map[int64]outbox.Item
	access      map[accessKey]entitlements.Access
	modules     map[int64]modules.Module
	roles       map[int64][]identity.Role
	userRoles   map[userOrg]map[int64]bool
}

func newDataset() *dataset {
	return &dataset{
		seq:         make(map[string]int64),
		subs:        make(map[int64]subscriptions.Subscription),
		plans:       make(map[int64]plans.Plan),
		planModules: make(map[int64]plans.PlanModule),
		orgs:        make(map[int64]orgs.Organization),
		outbox:      make(map[int64]outbox.Item),
		access:      make(map[accessKey]entitlements.Access),
		modules:     make(map[int64]modules.Module),
		roles:       make(map[int64][]identity.Role),
		userRoles:   make(map[userOrg]map[int64]bool),
	}
}

func (d *dataset) next(table string) int64 {
	d.seq[table]++
	return d.seq[table]
}

func (d *dataset) clone() *dataset {
	cp := newDataset()
	for k, v := range d.seq {
		cp.seq[k] = v
	}
	for k, v := range d.subs {
		cp.subs[k] = v
	}
	for k, v := range d.plans {
		cp.plans[k] = v
	}
	for k, v := range d.planModules {
		cp.planModules[k] = v
	}
	for k, v := range d.orgs {
		cp.orgs[k] = v
	}
	for k, v := range d.outbox {
		v.Payload.UserIDs = append([]int64(nil), v.Payload.UserIDs...)
		cp.outbox[k] = v
	}
	for k, v := range d.access {
		cp.access[k] = v
	}
	for k, v := range d.modules {
		cp.modules[k] = v
	}
	for k, v := range d.roles {
		cp.roles[k] = append([]identity.Role(nil), v...)
	}
	for k, v := range d.userRoles {
		set := make(map[int64]bool, len(v))
		for id := range v {
			set[id] = true
		}
		cp.userRoles[k] = set
	}
	return cp
}

// DB holds the dataset.
type DB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *dataset
}

// New creates an empty database.
func New() *DB {
	return &DB{data: newDataset()}
}

// handle performs reads and writes against the dataset. A handle bound to a
// unit of work already owns txMu.
type handle struct {
	db   *DB
	inTx bool
}

func (h handle) read(fn func(d *dataset)) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	fn(h.db.data)
}

func (h handle) write(fn func(d *dataset) error) error {
	if !h.inTx {
		h.db.txMu.Lock()
		defer h.db.txMu.Unlock()
	}
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return fn(h.db.data)
}

// atomically runs fn under txMu and restores the dataset when it fails.
func (db *DB) atomically(inTx bool, fn func(h handle) error) error {
	if inTx {
		return fn(handle{db: db, inTx: true})
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snapshot := db.data.clone()
	db.mu.Unlock()

	if err := fn(handle{db: db, inTx: true}); err != nil {
		db.mu.Lock()
		db.data = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

// Do implements storage.UnitOfWork.
func (db *DB) Do(ctx context.Context, orgID int64, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.atomically(false, func(h handle) error {
		return fn(ctx, txStores{h: h})
	})
}

type txStores struct {
	h handle
}

func (t txStores) Subscriptions() subscriptions.Store { return &SubscriptionStore{h: t.h} }
func (t txStores) Plans() plans.Store { return &PlanStore{h: t.h} }
func (t txStores) Organizations() orgs.Store { return &OrganizationStore{h: t.h} }
func (t txStores) Outbox() outbox.Store { return &OutboxStore{h: t.h} }

// Subscriptions returns the ledger store outside any unit of work.
func (db *DB) Subscriptions() *SubscriptionStore { return &SubscriptionStore{h: handle{db: db}} }

// Plans returns the plan store.
func (db *DB) Plans() *PlanStore { return &PlanStore{h: handle{db: db}} }

// Organizations returns the organization store.
func (db *DB) Organizations() *OrganizationStore { return &OrganizationStore{h: handle{db: db}} }

// Outbox returns the outbox store.
func (db *DB) Outbox() *OutboxStore { return &OutboxStore{h: handle{db: db}} }

// Access returns the entitlement store.
func (db *DB) Access() *AccessStore { return &AccessStore{h: handle{db: db}} }

// Modules returns the module catalog.
func (db *DB) Modules() *ModuleCatalog { return &ModuleCatalog{h: handle{db: db}} }

// Roles returns the role directory.
func (db *DB) Roles() *RoleDirectory { return &RoleDirectory{h: handle{db: db}} }

var _ storage.UnitOfWork = (*DB)(nil)

