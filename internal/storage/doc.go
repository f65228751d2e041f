// Package storage persists task run history, published results and notifier
// dedup state.
//
// Drivers:
//   - file: JSON Lines files next to each other, no external dependencies
//   - sqlite: a single database file (modernc.org/sqlite, pure Go)
//   - mysql: a shared MySQL database through gorm
//
// Open returns (nil, nil) when storage is disabled.
package storage
