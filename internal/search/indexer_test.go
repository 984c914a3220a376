package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"leadflow/internal/common/config"
	"leadflow/internal/common/database"
	"leadflow/internal/common/logger"
	"leadflow/internal/feed"
	"leadflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

// fakeES answers every request through respond and remembers what it saw.
type fakeES struct {
	mu       sync.Mutex
	requests []recorded
	respond  func(r recorded) (int, string)
}

func (f *fakeES) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	r := recorded{method: req.Method, path: req.URL.Path, body: string(body)}

	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	code, payload := http.StatusOK, `{}`
	if f.respond != nil {
		code, payload = f.respond(r)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Elastic-Product", "Elasticsearch")
	return &http.Response{
		StatusCode: code,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(payload)),
		Request:    req,
	}, nil
}

func (f *fakeES) requestsTo(suffix string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, r := range f.requests {
		if strings.HasSuffix(r.path, suffix) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeES) bulkRequests() []recorded {
	return f.requestsTo("/_bulk")
}

func (f *fakeES) pruneRequests() []recorded {
	return f.requestsTo("/_delete_by_query")
}

func okResponses(r recorded) (int, string) {
	if strings.HasSuffix(r.path, "/_delete_by_query") {
		return http.StatusOK, `{"deleted":0,"failures":[]}`
	}
	return http.StatusOK, `{"errors":false,"items":[]}`
}

func newTestIndexer(t *testing.T, fake *fakeES) *Indexer {
	t.Helper()
	es, err := database.NewElasticsearch(config.SearchConfig{Addresses: []string{"http://es.test:9200"}}, fake)
	require.NoError(t, err)
	return NewIndexer(es.Client, "applications", time.UTC, logger.NewNoOpLogger())
}

func lead(id, name string) models.Lead {
	parts := models.PhoneParts{P1: "010", P2: "1111", P3: "2222"}
	return models.Lead{
		ID: id,
		LeadPayload: models.LeadPayload{
			ApplicantName: name,
			Phone:         parts.Assemble(),
			PhoneParts:    parts,
			ConsentGiven:  true,
		},
		Status:    models.StatusPending,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// bulkActions returns the action lines of an NDJSON bulk body.
func bulkActions(t *testing.T, body string) []map[string]map[string]string {
	t.Helper()
	var actions []map[string]map[string]string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var line map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if _, ok := line["index"]; !ok {
			if _, ok := line["delete"]; !ok {
				continue
			}
		}
		var action map[string]map[string]string
		require.NoError(t, json.Unmarshal(sc.Bytes(), &action))
		actions = append(actions, action)
	}
	return actions
}

func TestEnsureIndex_CreatesMissingIndex(t *testing.T) {
	fake := &fakeES{respond: func(r recorded) (int, string) {
		if r.method == http.MethodHead {
			return http.StatusNotFound, ``
		}
		return http.StatusOK, `{"acknowledged":true}`
	}}
	ix := newTestIndexer(t, fake)

	require.NoError(t, ix.EnsureIndex(context.Background()))
	require.Len(t, fake.requests, 2)
	assert.Equal(t, http.MethodPut, fake.requests[1].method)
	assert.Equal(t, "/applications", fake.requests[1].path)
	assert.Contains(t, fake.requests[1].body, `"applicantName"`)
}

func TestEnsureIndex_ExistingIndexIsLeftAlone(t *testing.T) {
	fake := &fakeES{}
	ix := newTestIndexer(t, fake)

	require.NoError(t, ix.EnsureIndex(context.Background()))
	assert.Len(t, fake.requests, 1)
}

func TestSync_IndexesRecordsAndDeletesRemoved(t *testing.T) {
	fake := &fakeES{respond: okResponses}
	ix := newTestIndexer(t, fake)
	ctx := context.Background()

	require.NoError(t, ix.Sync(ctx, feed.Snapshot{Version: 1, Records: []models.Lead{lead("a", "kim"), lead("b", "lee")}}))
	require.NoError(t, ix.Sync(ctx, feed.Snapshot{Version: 2, Records: []models.Lead{lead("b", "lee")}}))

	bulks := fake.bulkRequests()
	require.Len(t, bulks, 2)
	assert.Equal(t, "/applications/_bulk", bulks[0].path)

	first := bulkActions(t, bulks[0].body)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0]["index"]["_id"])
	assert.Contains(t, bulks[0].body, `"statusLabel":"대기"`)

	second := bulkActions(t, bulks[1].body)
	require.Len(t, second, 2)
	assert.Equal(t, "b", second[0]["index"]["_id"])
	assert.Equal(t, "a", second[1]["delete"]["_id"])

	assert.Len(t, fake.pruneRequests(), 1, "leftovers are pruned once")
}

func TestSync_RestartPrunesRecordsDeletedWhileDown(t *testing.T) {
	fake := &fakeES{respond: okResponses}
	ctx := context.Background()

	before := newTestIndexer(t, fake)
	require.NoError(t, before.Sync(ctx, feed.Snapshot{Records: []models.Lead{lead("a", "kim"), lead("b", "lee")}}))

	// b is deleted while no indexer runs; the new process never saw it.
	after := newTestIndexer(t, fake)
	require.NoError(t, after.Sync(ctx, feed.Snapshot{Records: []models.Lead{lead("a", "kim")}}))

	prunes := fake.pruneRequests()
	require.Len(t, prunes, 2)
	assert.Equal(t, http.MethodPost, prunes[1].method)
	assert.Equal(t, "/applications/_delete_by_query", prunes[1].path)

	var body struct {
		Query struct {
			Bool struct {
				MustNot struct {
					IDs struct {
						Values []string `json:"values"`
					} `json:"ids"`
				} `json:"must_not"`
			} `json:"bool"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(prunes[1].body), &body))
	assert.Equal(t, []string{"a"}, body.Query.Bool.MustNot.IDs.Values, "everything except a is removed")
}

func TestSync_PruneFailureIsRetried(t *testing.T) {
	prunes := 0
	fake := &fakeES{respond: func(r recorded) (int, string) {
		if strings.HasSuffix(r.path, "/_delete_by_query") {
			prunes++
			if prunes == 1 {
				return http.StatusServiceUnavailable, `{"error":"unavailable"}`
			}
		}
		return okResponses(r)
	}}
	ix := newTestIndexer(t, fake)
	ctx := context.Background()
	snap := feed.Snapshot{Records: []models.Lead{lead("a", "kim")}}

	assert.Error(t, ix.Sync(ctx, snap))
	require.NoError(t, ix.Sync(ctx, snap))
	require.NoError(t, ix.Sync(ctx, snap))
	assert.Len(t, fake.pruneRequests(), 2)
}

func TestSync_ItemErrorsRetryDeletes(t *testing.T) {
	bulks := 0
	fake := &fakeES{respond: func(r recorded) (int, string) {
		if strings.HasSuffix(r.path, "/_bulk") {
			bulks++
			if bulks == 2 {
				return http.StatusOK, `{"errors":true,"items":[]}`
			}
		}
		return okResponses(r)
	}}
	ix := newTestIndexer(t, fake)
	ctx := context.Background()

	require.NoError(t, ix.Sync(ctx, feed.Snapshot{Records: []models.Lead{lead("a", "kim")}}))
	assert.Error(t, ix.Sync(ctx, feed.Snapshot{}))
	require.NoError(t, ix.Sync(ctx, feed.Snapshot{}))

	sent := fake.bulkRequests()
	require.Len(t, sent, 3)
	third := bulkActions(t, sent[2].body)
	require.Len(t, third, 1)
	assert.Equal(t, "a", third[0]["delete"]["_id"])
}

func TestSync_EmptySnapshotWithNothingIndexedSkipsRequest(t *testing.T) {
	fake := &fakeES{respond: okResponses}
	ix := newTestIndexer(t, fake)
	ctx := context.Background()

	// The first sync clears whatever an earlier process left behind.
	require.NoError(t, ix.Sync(ctx, feed.Snapshot{}))
	prunes := fake.pruneRequests()
	require.Len(t, prunes, 1)
	assert.Contains(t, prunes[0].body, `"match_all"`)

	require.NoError(t, ix.Sync(ctx, feed.Snapshot{}))
	assert.Len(t, fake.requests, 1)
	assert.Empty(t, fake.bulkRequests())
}

func TestSearch_ReturnsHits(t *testing.T) {
	hit, err := json.Marshal(feed.NewLeadView(lead("a", "kim"), time.UTC))
	require.NoError(t, err)

	fake := &fakeES{respond: func(recorded) (int, string) {
		var b bytes.Buffer
		b.WriteString(`{"hits":{"total":{"value":1},"hits":[{"_id":"a","_source":`)
		b.Write(hit)
		b.WriteString(`}]}}`)
		return http.StatusOK, b.String()
	}}
	ix := newTestIndexer(t, fake)

	leads, err := ix.Search(context.Background(), "kim", 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "a", leads[0].ID)
	assert.Equal(t, "kim", leads[0].ApplicantName)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "/applications/_search", fake.requests[0].path)
	assert.Contains(t, fake.requests[0].body, `"multi_match"`)
}

func TestSearch_SkipsInvalidHits(t *testing.T) {
	good, err := json.Marshal(feed.NewLeadView(lead("a", "kim"), time.UTC))
	require.NoError(t, err)

	fake := &fakeES{respond: func(recorded) (int, string) {
		var b bytes.Buffer
		b.WriteString(`{"hits":{"hits":[{"_id":"x","_source":{"id":"x","applicantName":"","status":"archived"}},{"_id":"a","_source":`)
		b.Write(good)
		b.WriteString(`}]}}`)
		return http.StatusOK, b.String()
	}}
	ix := newTestIndexer(t, fake)

	leads, err := ix.Search(context.Background(), "kim", 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "a", leads[0].ID)
}

func TestSearch_ErrorResponse(t *testing.T) {
	fake := &fakeES{respond: func(recorded) (int, string) {
		return http.StatusBadRequest, `{"error":{"type":"parsing_exception"}}`
	}}
	ix := newTestIndexer(t, fake)

	_, err := ix.Search(context.Background(), "kim", 5)
	assert.ErrorIs(t, err, ErrSearchFailed)
}
