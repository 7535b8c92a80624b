// Package storage persists whole JSON documents and an append-only audit log.
//
// A document is always read and written as a complete snapshot; callers do
// load, mutate, save. Drivers:
//   - file: one <name>.json per document under a directory, plus audit.jsonl
//   - sqlite: docs and audit tables in a single database file
package storage
