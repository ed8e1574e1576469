package propagator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ledger/pkg/codec"
	"github.com/cuemby/ledger/pkg/feed"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/search"
	"github.com/cuemby/ledger/pkg/types"
)

// binaryResourceType payloads are raw blobs; they are never mirrored into
// the search index.
const binaryResourceType = "Binary"

// aliasSuffix is appended to the lowercased resource type to form the
// stable alias the propagator writes through.
const aliasSuffix = "-alias"

// Propagator mirrors the primary table's change feed into per-resource-type
// search indices under stable aliases. It keeps no state between
// invocations: per-shard feed order is its only input, and replaying any
// record converges the index to the same state.
type Propagator struct {
	index        search.Index
	multiTenancy bool
	logger       zerolog.Logger
}

// New creates a change propagator.
func New(index search.Index, multiTenancy bool) *Propagator {
	return &Propagator{
		index:        index,
		multiTenancy: multiTenancy,
		logger:       log.WithComponent("propagator"),
	}
}

// AliasFor returns the stable alias for a resource type.
func AliasFor(resourceType string) string {
	return strings.ToLower(resourceType) + aliasSuffix
}

// IndexFor returns the physical index name for a resource type.
func IndexFor(resourceType string) string {
	return strings.ToLower(resourceType)
}

func (p *Propagator) mapping() map[string]any {
	props := map[string]any{
		params.FieldID:             map[string]any{"type": "keyword"},
		params.FieldResourceType:   map[string]any{"type": "keyword"},
		params.FieldDocumentStatus: map[string]any{"type": "keyword"},
		params.FieldReferences:     map[string]any{"type": "keyword"},
	}
	if p.multiTenancy {
		props[params.FieldTenantID] = map[string]any{"type": "keyword"}
	}
	return map[string]any{"properties": props}
}

// ensureAlias makes the resource type's alias resolvable: the physical
// index is created when missing, and an existing physical index without
// the alias gets it attached, which is what allows zero-downtime
// reindexing onto a fresh physical index.
func (p *Propagator) ensureAlias(ctx context.Context, resourceType string) error {
	alias := AliasFor(resourceType)
	aliasOK, err := p.index.AliasExists(ctx, alias)
	if err != nil {
		return err
	}
	if aliasOK {
		return nil
	}
	name := IndexFor(resourceType)
	indexOK, err := p.index.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if !indexOK {
		if err := p.index.CreateIndex(ctx, name, p.mapping()); err != nil {
			return err
		}
	}
	return p.index.CreateAlias(ctx, name, alias)
}

// document builds the search document for an item: the public payload plus
// the indexed keyword fields, with the tenant suffix stripped off the id.
func (p *Propagator) document(item *types.Item) search.Document {
	doc := search.Document(item.Document.Clone())
	doc[params.FieldID] = codec.SplitStorageID(item.StorageID, item.TenantID)
	doc[params.FieldResourceType] = item.ResourceType
	doc[params.FieldDocumentStatus] = string(item.DocumentStatus)
	doc[params.FieldReferences] = item.References
	if p.multiTenancy && item.TenantID != "" {
		doc[params.FieldTenantID] = item.TenantID
	}
	return doc
}

// HandleRecords applies one feed batch to the search index. All operations
// are collected and executed as a single bulk call; on any error the
// offending ids are logged and the error is returned so the feed
// redelivers the batch.
func (p *Propagator) HandleRecords(ctx context.Context, records []*feed.Record) error {
	start := time.Now()
	defer func() {
		metrics.PropagatorBatchDuration.Observe(time.Since(start).Seconds())
	}()

	var ops []search.Op
	var touched []string
	ensured := map[string]bool{}

	for _, rec := range records {
		img := rec.Image()
		if img == nil {
			continue
		}
		if img.ResourceType == binaryResourceType {
			metrics.PropagatorRecordsTotal.WithLabelValues("skip").Inc()
			continue
		}
		if !ensured[img.ResourceType] {
			if err := p.ensureAlias(ctx, img.ResourceType); err != nil {
				p.logger.Error().Err(err).Str("resource_type", img.ResourceType).Msg("failed to ensure index alias")
				return fmt.Errorf("failed to ensure alias for %s: %w", img.ResourceType, err)
			}
			ensured[img.ResourceType] = true
		}

		alias := AliasFor(img.ResourceType)
		docID := img.StorageID
		touched = append(touched, docID)

		if rec.EventName == feed.EventRemove {
			ops = append(ops, search.Op{Alias: alias, DocID: docID, Delete: true})
			metrics.PropagatorRecordsTotal.WithLabelValues("delete").Inc()
			continue
		}

		switch img.DocumentStatus {
		case types.StatusAvailable:
			ops = append(ops, search.Op{Alias: alias, DocID: docID, Doc: p.document(img)})
			metrics.PropagatorRecordsTotal.WithLabelValues("upsert").Inc()
		case types.StatusDeleted:
			ops = append(ops, search.Op{Alias: alias, DocID: docID, Delete: true})
			metrics.PropagatorRecordsTotal.WithLabelValues("delete").Inc()
		default:
			// Transient lock states never reach the index.
			metrics.PropagatorRecordsTotal.WithLabelValues("skip").Inc()
		}
	}

	if err := p.index.Bulk(ctx, ops); err != nil {
		p.logger.Error().Err(err).Strs("ids", touched).Msg("bulk apply failed")
		return fmt.Errorf("failed to apply %d operations: %w", len(ops), err)
	}
	return nil
}

// Run consumes a feed subscription until the context is done, batching
// records that arrive close together into single HandleRecords calls. A
// failed batch is retried with backoff until it applies: the feed blocks
// upstream writers meanwhile, so a search outage stalls propagation
// without losing records.
func (p *Propagator) Run(ctx context.Context, sub feed.Subscriber) {
	const flushAfter = 200 * time.Millisecond
	const maxBatch = 100
	const baseRetry = 250 * time.Millisecond
	const maxRetry = 10 * time.Second

	var batch []*feed.Record
	timer := time.NewTimer(flushAfter)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		backoff := baseRetry
		for {
			err := p.HandleRecords(ctx, batch)
			if err == nil {
				metrics.UpdateComponent("propagator", true, "")
				batch = nil
				return
			}
			metrics.UpdateComponent("propagator", false, err.Error())
			p.logger.Error().
				Err(err).
				Int("records", len(batch)).
				Dur("retry_in", backoff).
				Msg("feed batch failed, will retry")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxRetry {
				backoff *= 2
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-sub:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(flushAfter)
		}
	}
}
