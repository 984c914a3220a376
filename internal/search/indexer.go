// Package search mirrors the live lead set into Elasticsearch for free-text
// lookup.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"leadflow/internal/common/logger"
	"leadflow/internal/feed"
	"leadflow/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

var ErrSearchFailed = errors.New("SEARCH_QUERY_FAILED")

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":             {"type": "keyword"},
      "applicantName":  {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "phone":          {"type": "keyword"},
      "email":          {"type": "keyword"},
      "status":         {"type": "keyword"},
      "statusLabel":    {"type": "keyword"},
      "budget":         {"type": "keyword"},
      "additionalInfo": {"type": "text"},
      "createdAt":      {"type": "date"},
      "createdDate":    {"type": "keyword"}
    }
  }
}`

// Indexer keeps an index equal to the latest feed snapshot. Each sync
// upserts every record and deletes the ones that disappeared since the
// previous sync. The first successful sync also prunes documents left over
// from before the process started.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	loc    *time.Location
	logger logger.Logger

	mu         sync.Mutex
	indexed    map[string]struct{}
	reconciled bool
}

func NewIndexer(client *elasticsearch.Client, index string, loc *time.Location, log logger.Logger) *Indexer {
	return &Indexer{
		client:  client,
		index:   index,
		loc:     loc,
		logger:  log.WithFields(map[string]interface{}{"component": "search-indexer", "index": index}),
		indexed: make(map[string]struct{}),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := ix.client.Indices.Exists([]string{ix.index}, ix.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index: %s", res.Status())
	}

	res, err = ix.client.Indices.Create(
		ix.index,
		ix.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		ix.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("create index: %s", res.Status())
	}
	ix.logger.Info("search index created", nil)
	return nil
}

// Run mirrors hub snapshots until ctx ends or the subscription closes.
func (ix *Indexer) Run(ctx context.Context, hub *feed.Hub) error {
	sub, err := hub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to feed: %w", err)
	}
	defer sub.Unsubscribe()

	ix.syncLogged(ctx, sub.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Changes():
			if !ok {
				return nil
			}
			ix.syncLogged(ctx, snap)
		}
	}
}

func (ix *Indexer) syncLogged(ctx context.Context, snap feed.Snapshot) {
	if err := ix.Sync(ctx, snap); err != nil {
		ix.logger.Error("search sync failed", map[string]interface{}{
			"version": snap.Version,
			"error":   err,
		})
	}
}

// Sync makes the index match snap with one bulk request, pruning leftovers
// on the first call that gets that far.
func (ix *Indexer) Sync(ctx context.Context, snap feed.Snapshot) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	current := make(map[string]struct{}, len(snap.Records))

	for _, lead := range snap.Records {
		current[lead.ID] = struct{}{}
		enc.Encode(map[string]interface{}{"index": map[string]string{"_id": lead.ID}})
		enc.Encode(feed.NewLeadView(lead, ix.loc))
	}
	for id := range ix.indexed {
		if _, ok := current[id]; !ok {
			enc.Encode(map[string]interface{}{"delete": map[string]string{"_id": id}})
		}
	}
	if body.Len() > 0 {
		if err := ix.bulk(ctx, &body); err != nil {
			return err
		}
	}
	ix.indexed = current

	if !ix.reconciled {
		if err := ix.prune(ctx, current); err != nil {
			return err
		}
		ix.reconciled = true
	}
	return nil
}

func (ix *Indexer) bulk(ctx context.Context, body *bytes.Buffer) error {
	res, err := ix.client.Bulk(
		bytes.NewReader(body.Bytes()),
		ix.client.Bulk.WithIndex(ix.index),
		ix.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request: %s", res.Status())
	}

	var bulk struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulk.Errors {
		// Keep the old bookkeeping so failed deletes are retried next sync.
		return fmt.Errorf("bulk request reported item errors")
	}
	return nil
}

// prune deletes every document whose id is not in keep. The in-memory
// bookkeeping only covers what this process indexed, so records deleted
// while no indexer was running are removed here.
func (ix *Indexer) prune(ctx context.Context, keep map[string]struct{}) error {
	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(keep) > 0 {
		ids := make([]string, 0, len(keep))
		for id := range keep {
			ids = append(ids, id)
		}
		query = map[string]interface{}{
			"bool": map[string]interface{}{
				"must_not": map[string]interface{}{
					"ids": map[string]interface{}{"values": ids},
				},
			},
		}
	}
	body, _ := json.Marshal(map[string]interface{}{"query": query})

	res, err := ix.client.DeleteByQuery(
		[]string{ix.index},
		bytes.NewReader(body),
		ix.client.DeleteByQuery.WithConflicts("proceed"),
		ix.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("prune stale documents: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("prune stale documents: %s", res.Status())
	}

	var out struct {
		Deleted  int               `json:"deleted"`
		Failures []json.RawMessage `json:"failures"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode prune response: %w", err)
	}
	if len(out.Failures) > 0 {
		return fmt.Errorf("prune stale documents: %d failures", len(out.Failures))
	}
	if out.Deleted > 0 {
		ix.logger.Info("pruned stale search documents", map[string]interface{}{"deleted": out.Deleted})
	}
	return nil
}

// Search runs a free-text query over name, phone, email and notes and
// returns matching records, best match first.
func (ix *Indexer) Search(ctx context.Context, q string, size int) ([]models.Lead, error) {
	if size <= 0 {
		size = 20
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"applicantName^3", "phone^2", "email", "additionalInfo"},
				"type":   "best_fields",
			},
		},
	}
	body, _ := json.Marshal(query)

	res, err := ix.client.Search(
		ix.client.Search.WithIndex(ix.index),
		ix.client.Search.WithBody(bytes.NewReader(body)),
		ix.client.Search.WithSize(size),
		ix.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: %s: %s", ErrSearchFailed, res.Status(), msg)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.Lead `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSearchFailed, err)
	}

	leads := make([]models.Lead, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		if err := h.Source.Validate(); err != nil {
			ix.logger.Warn("skipping invalid search hit", map[string]interface{}{"error": err})
			continue
		}
		leads = append(leads, h.Source)
	}
	return leads, nil
}
