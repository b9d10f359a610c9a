// Package conversion turns a lead organization into a customer.
//
// A run validates the lead, takes a per-organization lock, marks the
// organization as converting, renames it, provisions its first user and
// sends the welcome notification. A failing step rolls back the earlier
// status and name changes in reverse order. A user that was already
// created is never deleted; it is reported as an
// errs.OrphanedResourceWarning in the result and flagged in the audit
// trail.
package conversion
