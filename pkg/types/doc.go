/*
Package types defines the shared data model of the ledger document store:
resources and their stored item form, the documentStatus lifecycle, bundle
request/response envelopes, export jobs, and the typed errors every layer
surfaces to callers.

A Resource is an opaque JSON document. The store only reserves two fields on
it: "id" and "meta" (versionId, lastUpdated), both stamped on every insert.
An Item is the stored record of a single immutable version, keyed by
(StorageID, VID), where StorageID embeds the tenant id in multi-tenant mode.

The documentStatus state machine:

	create (fast path) ──────────────▶ AVAILABLE
	create/update (bundle) ─▶ PENDING ─▶ AVAILABLE
	delete ──▶ LOCKED ─▶ PENDING_DELETE ─▶ DELETED

PENDING, LOCKED, and PENDING_DELETE are transient lock states; a conflicting
writer may reclaim them after the lock window expires.
*/
package types
