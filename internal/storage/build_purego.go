//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Compiled by default and with the purego tag. Uses modernc.org/sqlite, so
// no C toolchain is needed; similarity is computed in Go.
//
//   CGO_ENABLED=0 go build -tags "purego" ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether SQL-side vector distance is attempted
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
