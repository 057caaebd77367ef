// Package store persists the pattern lifecycle in SQLite: pattern
// definitions deduplicated by content hash, append-only occurrence and
// outcome logs, provisional alerts, workspace principles, kill-switch
// status, injection audit rows, and tagging misses.
//
// It implements the Store interfaces declared by the attribution,
// promotion, killswitch, injection, and reflection packages. Multi-step
// mutations that must be atomic (dedup create, alert promotion with
// occurrence relinking, decay sweep application, cascading project
// deletion) run inside a single transaction and either commit completely
// or leave every row untouched. Lookups that match nothing return
// pattern.ErrNotFound so callers branch explicitly.
package store
