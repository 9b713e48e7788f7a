// Package storage persists the automation core's own state:
//   - reminder fire state (insert-if-absent, durable across restarts)
//   - execution report audit log
//
// Drivers: "file" (jsonl journal + snapshot), "sqlite" and "memory".
package storage
