// Package storage persists projects, sessions, contexts, the naming registry
// and the decision ledger.
//
// Two backends implement the Storage interface:
//
//   - SQLiteStorage: a single-file database in WAL mode with one writer
//     connection. Vectors are little-endian float32 BLOBs, tags and aliases
//     are JSON arrays, and FTS5 external-content tables (kept in sync by
//     triggers) serve full-text ranking.
//   - PostgresStorage: pgx pool with the pgvector extension. Embeddings live
//     in a vector(N) column behind an HNSW cosine index; GIN indexes cover
//     content full-text, tags and aliases.
//
// Open picks the backend from configuration:
//
//	store, err := storage.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// # Dimension
//
// Each database records the embedding dimension it was created with. Opening
// it with a different configured dimension fails with types.ErrDimensionMismatch,
// and every embedding write is checked against it.
//
// # Transactions
//
// Read-then-write sequences run inside WithTx. With SQLite's single
// connection, every read inside the callback must go through the Tx or it
// will wait on the connection the transaction holds.
//
//	err := storage.WithTx(ctx, store, func(tx storage.Tx) error {
//	    d, err := tx.GetDecision(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    ok, err := tx.UpdateDecision(ctx, d, d.Status)
//	    ...
//	})
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 and computes
// cosine distance in SQL through sqlite-vec when the extension is loaded:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Pure Go build (default, or purego tag) uses modernc.org/sqlite and scores
// candidates in Go:
//
//	CGO_ENABLED=0 go build -tags "purego" ./...
//
// Both paths produce the same ordering: embedded rows first, similarity
// descending, then relevance_score descending, then created_at descending.
package storage
