// Package store provides event persistence backends.
//
// Two implementations ship with eventkit:
//   - MemoryStore: indexed in-memory store with capacity eviction and
//     TTL expiry. The default for single-process use.
//   - SQLiteStore: durable store on modernc.org/sqlite (pure Go, no
//     cgo). Survives restarts; suitable for single-process production.
//
// Both satisfy the event.Store interface and can be attached to a bus
// through BusConfig.Store.
package store
