// Package decisions implements the technical decision ledger.
//
// Decisions start active and move through a small state machine:
//
//	active       -> under_review | superseded
//	under_review -> active | deprecated | superseded
//
// deprecated and superseded are terminal. Decisions are never deleted; a
// superseded decision keeps pointing at its successor.
//
// Status changes are optimistic: the UPDATE only matches while the stored
// status equals the one the caller (or the transaction) read, so two agents
// superseding the same decision cannot both win. Outcome fields may be
// updated in any status.
package decisions
