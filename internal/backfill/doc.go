// Package backfill fills in embeddings for contexts that were stored while
// the embedding provider was slow or unavailable.
//
// A run snapshots up to MaxPerRun rows whose embedding is null and embeds
// them with a bounded worker pool. Each row is written with a conditional
// UPDATE that only matches while the embedding is still null, so a row that
// another run (or a second server process) filled in the meantime is counted
// as skipped and never overwritten. A row whose embedding fails stays null
// and is retried by the next run.
//
// Only one run executes per Job at a time; a concurrent Run returns
// immediately with AlreadyRunning set. The Scheduler starts runs on a cron
// schedule and whenever the context store reports a deferred embedding.
package backfill
