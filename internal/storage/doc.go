// Package storage provides the small persistence layer starwatch needs.
//
// It currently supports:
//   - Alert/consent audit appends
//   - The per-surface consent decision (so a grant survives restarts)
//
// Items and dedup state are deliberately not persisted.
package storage
