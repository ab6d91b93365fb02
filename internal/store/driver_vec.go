//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// cgo build: register the sqlite-vec extension with the mattn/go-sqlite3
// driver so new connections can create vec0 virtual tables.
const (
	driverName    = "sqlite3"
	vecCompiledIn = true
)

func init() {
	vec.Auto()
}
