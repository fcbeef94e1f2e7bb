package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"homespark/harvester/internal/config"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPageSize   = 1000
	defaultBulkChunk  = 500
	defaultDimensions = 768
)

type ElasticsearchIndex struct {
	esClient   *es.Client
	indexName  string
	dimensions int
	pageSize   int
	bulkChunk  int
}

type document struct {
	Metadata
	Vector []float32 `json:"vector"`
}

func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*es.Client, error) {
	clientConfig := es.Config{
		Addresses:  cfg.Addresses,
		MaxRetries: 3,
	}
	if cfg.Username != "" && cfg.Password != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

func NewElasticsearchIndex(client *es.Client, indexName string, dimensions int) *ElasticsearchIndex {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &ElasticsearchIndex{
		esClient:   client,
		indexName:  indexName,
		dimensions: dimensions,
		pageSize:   defaultPageSize,
		bulkChunk:  defaultBulkChunk,
	}
}

func (i *ElasticsearchIndex) mapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"vector": map[string]any{
					"type":       "dense_vector",
					"dims":       i.dimensions,
					"index":      true,
					"similarity": "cosine",
				},
				"link":            map[string]any{"type": "keyword"},
				"site":            map[string]any{"type": "keyword"},
				"type":            map[string]any{"type": "keyword"},
				"last_checked":    map[string]any{"type": "date"},
				"price":           map[string]any{"type": "long"},
				"location":        map[string]any{"type": "text"},
				"floor":           map[string]any{"type": "text"},
				"characteristics": map[string]any{"type": "text"},
				"description":     map[string]any{"type": "text"},
			},
		},
	}
}

// EnsureIndex creates the index with its vector mapping if it does not exist.
func (i *ElasticsearchIndex) EnsureIndex(ctx context.Context) error {
	res, err := i.esClient.Indices.Exists([]string{i.indexName}, i.esClient.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: failed to check index existence: %v", ErrUnavailable, err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("error checking index existence: %s", res.String())
	}

	body, err := json.Marshal(i.mapping())
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	res, err = i.esClient.Indices.Create(i.indexName,
		i.esClient.Indices.Create.WithBody(bytes.NewReader(body)),
		i.esClient.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create index: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("error creating index: %s", string(body))
	}

	log.Infof("✅ Created index %s with %d dimensions", i.indexName, i.dimensions)
	return nil
}

func (i *ElasticsearchIndex) Upsert(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(document{Metadata: entry.Metadata, Vector: entry.Vector})
	if err != nil {
		return fmt.Errorf("failed to marshal index entry: %w", err)
	}

	res, err := i.esClient.Index(i.indexName, bytes.NewReader(body),
		i.esClient.Index.WithDocumentID(entry.ID),
		i.esClient.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to index %s: %v", ErrUnavailable, entry.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("error indexing %s: %s", entry.ID, string(body))
	}
	return nil
}

func (i *ElasticsearchIndex) refresh(ctx context.Context) error {
	res, err := i.esClient.Indices.Refresh(
		i.esClient.Indices.Refresh.WithIndex(i.indexName),
		i.esClient.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to refresh index: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("error refreshing index %s: %s", i.indexName, string(body))
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID   string `json:"_id"`
			Sort []any  `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query returns the ids of every entry matching filter, paging with search_after.
// The index is refreshed first so entries written just before are searched with their latest last_checked.
func (i *ElasticsearchIndex) Query(ctx context.Context, filter Filter) ([]string, error) {
	if err := i.refresh(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	var searchAfter []any

	for {
		query := map[string]any{
			"size":    i.pageSize,
			"_source": false,
			"sort":    []any{map[string]any{"link": "asc"}},
			"query": map[string]any{
				"bool": map[string]any{
					"filter": []any{
						map[string]any{"term": map[string]any{"site": filter.Site.String()}},
						map[string]any{"term": map[string]any{"type": filter.ListingType.String()}},
						map[string]any{"range": map[string]any{"last_checked": map[string]any{
							"lt": filter.CheckedBefore.UTC().Format(time.RFC3339Nano),
						}}},
					},
				},
			},
		}
		if searchAfter != nil {
			query["search_after"] = searchAfter
		}

		body, err := json.Marshal(query)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query: %w", err)
		}

		res, err := i.esClient.Search(
			i.esClient.Search.WithContext(ctx),
			i.esClient.Search.WithIndex(i.indexName),
			i.esClient.Search.WithBody(bytes.NewReader(body)),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to search index: %v", ErrUnavailable, err)
		}

		var parsed searchResponse
		err = decodeResponse(res, &parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to search index: %w", err)
		}

		hits := parsed.Hits.Hits
		for _, hit := range hits {
			ids = append(ids, hit.ID)
		}
		if len(hits) < i.pageSize {
			return ids, nil
		}
		searchAfter = hits[len(hits)-1].Sort
	}
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  any    `json:"error"`
	} `json:"items"`
}

// DeleteMany removes entries by id. Ids that are already gone are not an error.
func (i *ElasticsearchIndex) DeleteMany(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += i.bulkChunk {
		end := min(start+i.bulkChunk, len(ids))

		var buf bytes.Buffer
		for _, id := range ids[start:end] {
			action := map[string]any{"delete": map[string]any{"_index": i.indexName, "_id": id}}
			line, err := json.Marshal(action)
			if err != nil {
				return fmt.Errorf("failed to marshal bulk action: %w", err)
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}

		res, err := i.esClient.Bulk(bytes.NewReader(buf.Bytes()),
			i.esClient.Bulk.WithContext(ctx),
			i.esClient.Bulk.WithIndex(i.indexName),
			i.esClient.Bulk.WithRefresh("wait_for"),
		)
		if err != nil {
			return fmt.Errorf("%w: failed to bulk delete: %v", ErrUnavailable, err)
		}

		var parsed bulkResponse
		if err := decodeResponse(res, &parsed); err != nil {
			return fmt.Errorf("failed to bulk delete: %w", err)
		}
		if !parsed.Errors {
			continue
		}
		for _, item := range parsed.Items {
			for _, result := range item {
				if result.Status != http.StatusNotFound && result.Status >= 300 {
					return fmt.Errorf("failed to delete %s: status %d: %v", result.ID, result.Status, result.Error)
				}
			}
		}
	}
	return nil
}

func decodeResponse(res *esapi.Response, target any) error {
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch returned %s: %s", res.Status(), string(body))
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
