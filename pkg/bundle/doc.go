// Package bundle executes atomic multi-resource write bundles.
//
// A bundle is a set of create, update, delete and read entries that either
// all take effect or none do. The engine's transactions are bounded, so a
// bundle larger than one batch cannot commit in a single shot; instead it
// runs as a two-phase protocol where every entry first acquires a
// transient state and is then promoted:
//
//	         Phase 1 (stage)            Phase 2 (commit)
//	create   insert PENDING       -->   PENDING        -> AVAILABLE
//	update   insert PENDING       -->   PENDING        -> AVAILABLE
//	delete   AVAILABLE            -->   PENDING_DELETE -> DELETED
//	read     (nothing)            -->   point get
//
// Every write is guarded on the state it expects to find, which makes the
// transient states act as locks: a concurrent bundle touching the same
// resources fails its guard and backs off. A crashed bundle leaves its
// transient states behind; after the lock window expires any later writer
// may reclaim them through the guard's expired-lock escape.
//
// On any participant failure the staged states are rolled back: inserted
// versions are removed, staged deletes revert to AVAILABLE. Readers never
// observe intermediate states because reads resolve through the version
// chain's head policy, which skips PENDING versions.
package bundle
