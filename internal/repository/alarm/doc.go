// Package alarm implements the in-memory Alarm Store.
//
// The Store keeps alarms ordered by id with an id index and a per-group
// member count, all guarded by a single context-aware exclusion lock. Callers
// receive clones, never the stored records. The lock-held Tx view lets the
// worker registry make spawn/retire decisions while the store lock is held.
package alarm
