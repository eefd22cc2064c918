// Package naming implements the naming registry: one canonical name per
// entity, per project and entity type.
//
// Registration is an atomic upsert, so concurrent agents registering the same
// name end up with a single row whose usage count reflects every call.
// Registering a new name that resembles an existing one (same name in another
// case, an alias, equal once separators are dropped, or within a small edit
// distance) still succeeds; the result carries Conflict and the look-alikes so
// the caller can decide.
//
// Deprecation may point at a replacement entry. The replacement chain is
// walked inside the same transaction before the pointer is written, and a
// walk that comes back to the deprecated entry is rejected with a
// types.CycleError, keeping the replacement graph acyclic.
package naming
