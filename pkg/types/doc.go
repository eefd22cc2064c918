// Package types provides the shared domain types for the devmemory MCP server.
//
// The package has no dependencies on storage or transport. It defines the
// entities persisted by the store (Project, Session, Context, NamingEntry,
// Decision), their enumerations with Valid methods, and the error values the
// services return.
//
// # Errors
//
// Callers branch on errors with errors.Is and errors.As:
//
//	var verr *types.ValidationError
//	if errors.As(err, &verr) {
//	    // reject the request, nothing was written
//	}
//	if errors.Is(err, types.ErrCycle) {
//	    // replacement or supersession chain would loop
//	}
//
// Naming conflicts are not errors. They are reported as a flag on the
// registration result so that the caller can decide whether to proceed.
//
// # Decision lifecycle
//
// CanTransition encodes the decision state machine:
//
//	active       -> under_review, superseded
//	under_review -> active, deprecated, superseded
//
// deprecated and superseded are terminal.
package types
