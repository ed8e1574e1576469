package search

import (
	"context"
	"fmt"
	"sync"
)

// MemIndex is an in-memory Index for tests and local single-node mode.
type MemIndex struct {
	mu      sync.RWMutex
	indices map[string]map[string]Document // physical index -> docID -> doc
	aliases map[string]string              // alias -> physical index
}

// NewMemIndex creates an empty in-memory search index.
func NewMemIndex() *MemIndex {
	return &MemIndex{
		indices: make(map[string]map[string]Document),
		aliases: make(map[string]string),
	}
}

func (m *MemIndex) IndexExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indices[name]
	return ok, nil
}

func (m *MemIndex) AliasExists(ctx context.Context, alias string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.aliases[alias]
	return ok, nil
}

func (m *MemIndex) CreateIndex(ctx context.Context, name string, mapping map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[name]; !ok {
		m.indices[name] = make(map[string]Document)
	}
	return nil
}

func (m *MemIndex) CreateAlias(ctx context.Context, name, alias string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[name]; !ok {
		return fmt.Errorf("index %s does not exist", name)
	}
	m.aliases[alias] = name
	return nil
}

func (m *MemIndex) Bulk(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		name, ok := m.aliases[op.Alias]
		if !ok {
			return fmt.Errorf("alias %s does not exist", op.Alias)
		}
		idx := m.indices[name]
		if op.Delete {
			delete(idx, op.DocID)
			continue
		}
		idx[op.DocID] = op.Doc
	}
	return nil
}

// Docs returns a copy of the documents behind an alias.
func (m *MemIndex) Docs(alias string) map[string]Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.aliases[alias]
	if !ok {
		return nil
	}
	out := make(map[string]Document, len(m.indices[name]))
	for id, doc := range m.indices[name] {
		out[id] = doc
	}
	return out
}
