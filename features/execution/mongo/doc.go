// Package mongo provides a MongoDB-backed implementation of execution.Store.
// Build the low-level client via features/execution/mongo/clients/mongo and
// pass it to NewStore so managers can persist the audit trail of start,
// cancel and terminate requests outside the workflow engine.
package mongo
