//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Pure-Go build: no sqlite-vec, pattern search uses the cosine scan.
const (
	driverName    = "sqlite"
	vecCompiledIn = false
)
