package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
)

// ESIndex implements Index on an Elasticsearch cluster.
type ESIndex struct {
	client *elasticsearch.Client
}

// NewESIndex creates a search index client for the given addresses.
func NewESIndex(addresses []string) (*ESIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	return &ESIndex{client: client}, nil
}

func (e *ESIndex) IndexExists(ctx context.Context, name string) (bool, error) {
	resp, err := e.client.Indices.Exists([]string{name}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200, nil
}

func (e *ESIndex) AliasExists(ctx context.Context, alias string) (bool, error) {
	resp, err := e.client.Indices.ExistsAlias([]string{alias}, e.client.Indices.ExistsAlias.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to check alias %s: %w", alias, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200, nil
}

func (e *ESIndex) CreateIndex(ctx context.Context, name string, mapping map[string]any) error {
	body, err := json.Marshal(map[string]any{"mappings": mapping})
	if err != nil {
		return err
	}
	resp, err := e.client.Indices.Create(
		name,
		e.client.Indices.Create.WithBody(bytes.NewReader(body)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("failed to create index %s: %s", name, resp.String())
	}
	return nil
}

func (e *ESIndex) CreateAlias(ctx context.Context, name, alias string) error {
	resp, err := e.client.Indices.PutAlias([]string{name}, alias, e.client.Indices.PutAlias.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create alias %s: %w", alias, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("failed to create alias %s: %s", alias, resp.String())
	}
	return nil
}

// Bulk executes the batch as one _bulk request.
func (e *ESIndex) Bulk(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		if op.Delete {
			if err := enc.Encode(map[string]any{"delete": map[string]any{"_index": op.Alias, "_id": op.DocID}}); err != nil {
				return err
			}
			continue
		}
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": op.Alias, "_id": op.DocID}}); err != nil {
			return err
		}
		if err := enc.Encode(op.Doc); err != nil {
			return err
		}
	}
	resp, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("bulk request failed: %s", resp.String())
	}
	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if result.Errors {
		return fmt.Errorf("bulk request reported item errors")
	}
	return nil
}
