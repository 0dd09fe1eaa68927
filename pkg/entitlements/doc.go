// Package entitlements manages per-user module access within an organization.
//
// A grant takes one seat of the module's per-organization user limit. The
// seat count and the write happen under a lock on (organization, module), so
// concurrent grants cannot overshoot the limit. Granting and revoking also
// assign or remove the roles attached to the module.
package entitlements
