// Package command implements the command queue and delivery
// reconciliation core.
//
// A submitted command is persisted queued, pushed over the broker link
// when possible, and always available to the HTTP poll fallback until it
// reaches a terminal state or its deadline passes. The same command may
// legitimately travel both transports; devices dedupe by id, and the
// reconciler applies acks from either path through one idempotent
// compare-and-set so terminal states always win.
//
// Expiry is a read-time filter: a non-terminal row past its deadline is
// excluded from delivery and presented as expired, but no stored
// transition ever happens and no sweeper runs.
package command
