/*
Package kv provides the primary table of the ledger document store: a Store
interface capturing exactly what the persistence core needs from a KV
engine, and a BoltDB-backed implementation.

# Architecture

	┌───────────────────── PRIMARY TABLE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                       │           │
	│  │  - File: <dataDir>/ledger.db               │           │
	│  │  - Transactions: ACID, single writer       │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Bucket Structure              │           │
	│  │  documents           storageId|0x00|vid20  │           │
	│  │  export_jobs         jobId                 │           │
	│  │  export_jobs_status  status|0x00|jobId     │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Conditional Writes                  │           │
	│  │  - attribute-not-exists inserts            │           │
	│  │  - guarded status transitions with the     │           │
	│  │    expired-lock reclaim escape             │           │
	│  │  - TransactWrite: all-or-nothing batches   │           │
	│  │    bounded by params.MaxTransactItems      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Change Feed                     │           │
	│  │  - old/new images per committed mutation   │           │
	│  │  - published to feed.Broker in commit      │           │
	│  │    order (single shard)                    │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

The version range key is zero-padded decimal so lexical key order equals
numeric vid order; Query walks a chain backwards from its last key to serve
"most recent N" reads.

Condition failures surface as *ConditionFailedError; callers interpret them
per operation (insert conflict, contention, missing target). Point reads of
absent keys return ErrItemNotFound.
*/
package kv
