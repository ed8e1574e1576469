package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ledger/pkg/feed"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDocuments    = []byte("documents")
	bucketExportJobs   = []byte("export_jobs")
	bucketExportStatus = []byte("export_jobs_status")
)

// keySep separates the partition key from the range key inside a composite
// bucket key. It never appears in storage ids or statuses.
const keySep = byte(0x00)

// BoltStore implements Store using BoltDB. Documents are stored in a single
// bucket keyed storageId|0x00|zero-padded-vid so that a prefix scan walks
// one version chain in vid order; export jobs carry a status index bucket.
// Bolt's single-writer ACID update gives the all-or-nothing semantics
// TransactWrite requires; the params.MaxTransactItems bound is still
// enforced so bundle batching behaves as it would against a remote engine
// with bounded transactions.
//
// Committed mutations are published to the change feed in commit order.
// Projections in read descriptors are advisory here: a local engine reads
// whole values anyway, so full images are returned.
type BoltStore struct {
	db     *bolt.DB
	broker *feed.Broker
}

// NewBoltStore creates a new BoltDB-backed store. The broker may be nil
// when no change-feed consumer is attached.
func NewBoltStore(dataDir string, broker *feed.Broker) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ledger.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDocuments,
			bucketExportJobs,
			bucketExportStatus,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, broker: broker}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func docKey(storageID string, vid int64) []byte {
	k := make([]byte, 0, len(storageID)+21)
	k = append(k, storageID...)
	k = append(k, keySep)
	k = append(k, fmt.Sprintf("%020d", vid)...)
	return k
}

func docPrefix(storageID string) []byte {
	p := make([]byte, 0, len(storageID)+1)
	p = append(p, storageID...)
	p = append(p, keySep)
	return p
}

// checkCondition evaluates a write guard against the currently stored item.
// It returns "" when the guard passes, otherwise the failure reason.
func checkCondition(existing *types.Item, cond params.Condition) string {
	if cond.NotExists {
		if existing != nil {
			return "key already exists"
		}
		return ""
	}
	if cond.ResourceType == "" && cond.ExpectStatus == "" {
		return ""
	}
	if existing == nil {
		return "item does not exist"
	}
	if cond.ResourceType != "" && existing.ResourceType != cond.ResourceType {
		return fmt.Sprintf("resourceType is %s, expected %s", existing.ResourceType, cond.ResourceType)
	}
	if cond.ExpectStatus != "" && existing.DocumentStatus != cond.ExpectStatus {
		for _, st := range cond.ReclaimStatuses {
			if existing.DocumentStatus == st && existing.LockEndTs < cond.ReclaimBefore {
				// Expired lock; the transition may reclaim it.
				return ""
			}
		}
		return fmt.Sprintf("documentStatus is %s, expected %s", existing.DocumentStatus, cond.ExpectStatus)
	}
	return ""
}

func getStoredItem(b *bolt.Bucket, storageID string, vid int64) (*types.Item, error) {
	data := b.Get(docKey(storageID, vid))
	if data == nil {
		return nil, nil
	}
	var item types.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode stored item %s/%d: %w", storageID, vid, err)
	}
	return &item, nil
}

func putStoredItem(b *bolt.Bucket, item types.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return b.Put(docKey(item.StorageID, item.VID), data)
}

// applyPut executes one conditional insert inside a write transaction and
// returns the feed record to publish on commit.
func applyPut(b *bolt.Bucket, req params.PutRequest, index int) (*feed.Record, error) {
	existing, err := getStoredItem(b, req.Item.StorageID, req.Item.VID)
	if err != nil {
		return nil, err
	}
	if reason := checkCondition(existing, req.Condition); reason != "" {
		return nil, &ConditionFailedError{Index: index, Reason: reason}
	}
	if err := putStoredItem(b, req.Item); err != nil {
		return nil, err
	}
	rec := &feed.Record{EventName: feed.EventInsert, NewImage: cloneItem(&req.Item)}
	if existing != nil {
		rec.EventName = feed.EventModify
		rec.OldImage = existing
	}
	return rec, nil
}

// applyTransition executes one guarded status transition inside a write
// transaction.
func applyTransition(b *bolt.Bucket, req params.StatusTransitionRequest, index int) (*feed.Record, error) {
	existing, err := getStoredItem(b, req.StorageID, req.VID)
	if err != nil {
		return nil, err
	}
	if reason := checkCondition(existing, req.Condition); reason != "" {
		return nil, &ConditionFailedError{Index: index, Reason: reason}
	}
	// A vacuous condition still needs a stored item to transition.
	if existing == nil {
		return nil, &ConditionFailedError{Index: index, Reason: "item does not exist"}
	}
	updated := *existing
	updated.DocumentStatus = req.NewStatus
	updated.LockEndTs = req.NewLockEndTs
	updated.Document = existing.Document.Clone()
	if err := putStoredItem(b, updated); err != nil {
		return nil, err
	}
	return &feed.Record{
		EventName: feed.EventModify,
		OldImage:  existing,
		NewImage:  cloneItem(&updated),
	}, nil
}

// applyDelete executes one unconditional removal inside a write transaction.
func applyDelete(b *bolt.Bucket, req params.DeleteRequest) (*feed.Record, error) {
	existing, err := getStoredItem(b, req.StorageID, req.VID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Idempotent: rollback retries hit already-removed keys.
		return nil, nil
	}
	if err := b.Delete(docKey(req.StorageID, req.VID)); err != nil {
		return nil, err
	}
	return &feed.Record{EventName: feed.EventRemove, OldImage: existing}, nil
}

func cloneItem(item *types.Item) *types.Item {
	out := *item
	out.Document = item.Document.Clone()
	if item.References != nil {
		out.References = append([]string(nil), item.References...)
	}
	return &out
}

func (s *BoltStore) publish(records []*feed.Record) {
	if s.broker == nil {
		return
	}
	for _, rec := range records {
		if rec != nil {
			s.broker.Publish(rec)
		}
	}
}

// PutItem inserts one item, honoring its condition.
func (s *BoltStore) PutItem(ctx context.Context, req params.PutRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rec *feed.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		rec, err = applyPut(tx.Bucket(bucketDocuments), req, -1)
		return err
	})
	if err != nil {
		return err
	}
	s.publish([]*feed.Record{rec})
	return nil
}

// GetItem reads one version. Returns ErrItemNotFound when absent.
func (s *BoltStore) GetItem(ctx context.Context, req params.GetRequest) (*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var item *types.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		item, err = getStoredItem(tx.Bucket(bucketDocuments), req.StorageID, req.VID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// Query returns up to Limit versions of one storage id, newest first.
func (s *BoltStore) Query(ctx context.Context, req params.QueryRequest) ([]types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	prefix := docPrefix(req.StorageID)
	var items []types.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocuments).Cursor()

		// Position past the chain's last key, then walk backwards. The
		// range key is zero-padded decimal, so byte order equals numeric
		// order and 0xff is past any digit.
		seek := append(append([]byte{}, prefix...), 0xff)
		k, v := c.Seek(seek)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && len(items) < limit; k, v = c.Prev() {
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			var item types.Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to decode stored item %s: %w", k, err)
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteItem removes one version unconditionally.
func (s *BoltStore) DeleteItem(ctx context.Context, req params.DeleteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rec *feed.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		rec, err = applyDelete(tx.Bucket(bucketDocuments), req)
		return err
	})
	if err != nil {
		return err
	}
	s.publish([]*feed.Record{rec})
	return nil
}

// ApplyTransition applies one guarded status transition.
func (s *BoltStore) ApplyTransition(ctx context.Context, req params.StatusTransitionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rec *feed.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		rec, err = applyTransition(tx.Bucket(bucketDocuments), req, -1)
		return err
	})
	if err != nil {
		return err
	}
	s.publish([]*feed.Record{rec})
	return nil
}

// TransactWrite applies a bounded batch of writes atomically: either every
// member is applied or none is. A condition failure on any member aborts
// the whole batch with a ConditionFailedError carrying the member index.
func (s *BoltStore) TransactWrite(ctx context.Context, items []params.TransactItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > params.MaxTransactItems {
		return fmt.Errorf("transaction of %d items exceeds the %d item bound", len(items), params.MaxTransactItems)
	}
	records := make([]*feed.Record, 0, len(items))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		for i, item := range items {
			var rec *feed.Record
			var err error
			switch {
			case item.Put != nil:
				rec, err = applyPut(b, *item.Put, i)
			case item.Transition != nil:
				rec, err = applyTransition(b, *item.Transition, i)
			case item.Delete != nil:
				rec, err = applyDelete(b, *item.Delete)
			default:
				err = fmt.Errorf("transact item %d is empty", i)
			}
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(records)
	return nil
}
