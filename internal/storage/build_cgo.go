//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with the sqlite_vec tag. Uses github.com/mattn/go-sqlite3 and
// asks SQLite for vec_distance_cosine when the sqlite-vec extension is
// loaded; queries fall back to in-process scoring if it is not.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether SQL-side vector distance is attempted
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
