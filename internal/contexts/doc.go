// Package contexts stores development context fragments.
//
// StoreContext validates first, then asks the embedder for a vector under a
// bounded timeout. A slow or failing provider never fails the write: the row
// is persisted with a null embedding and the backfill scheduler is notified.
// Contexts are append-only; they are removed only by explicit deletes or a
// project cascade.
package contexts
