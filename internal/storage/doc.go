// Package storage keeps a delivery history of outbound messages.
//
// Drivers:
//   - "file": JSON Lines file, no extra dependencies
//   - "sqlite": SQLite database via modernc.org/sqlite (pure Go)
//
// History is informational only. Pipeline state (offsets, the debounce slot)
// is never restored from it.
package storage
