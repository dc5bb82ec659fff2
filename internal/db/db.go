// Package db holds the storage connections: Postgres for visits and PIN
// calls, Redis for session state.
package db

import "errors"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")
