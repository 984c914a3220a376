package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "leadflow/internal/common/errors"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/observability"
	"leadflow/internal/gateway"
	"leadflow/internal/intake"
	"leadflow/internal/models"
	"leadflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBody = `{
	"applicantName": "김하나",
	"phone1": "010",
	"phone2": "1234",
	"phone3": "5678",
	"pregnancyWeeks": 20,
	"budget": "50k-100k",
	"consent": true
}`

type stubSearcher struct {
	leads []models.Lead
	err   error
	query string
	size  int
}

func (s *stubSearcher) Search(_ context.Context, q string, size int) ([]models.Lead, error) {
	s.query = q
	s.size = size
	return s.leads, s.err
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) List(context.Context) ([]models.Lead, error) {
	return nil, fmt.Errorf("%w: list: connection refused", store.ErrStoreUnavailable)
}

func newTestServer(t *testing.T, s store.Store, mutate func(*Deps)) http.Handler {
	t.Helper()
	log := logger.NewNoOpLogger()
	v, err := intake.NewValidator(intake.Config{Variant: intake.VariantPregnancyWeeks})
	require.NoError(t, err)

	deps := Deps{
		Intake:   intake.NewService(v, s, nil, log),
		Gateway:  gateway.New(s, observability.NewNoop(), log),
		Store:    s,
		Location: time.UTC,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewServer(deps, log).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func create(t *testing.T, h http.Handler) createResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/applications", validBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createResponse](t, rec)
}

func TestCreate_ReturnsPendingRecord(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)

	got := create(t, h)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	list := decode[listResponse](t, do(t, h, http.MethodGet, "/api/applications", ""))
	require.Len(t, list.Records, 1)
	assert.Equal(t, got.ID, list.Records[0].ID)
	assert.Equal(t, "010-1234-5678", list.Records[0].Phone)
	assert.Equal(t, "대기", list.Records[0].StatusLabel)
	assert.Equal(t, 1, list.Counts.Of(models.StatusPending))
}

func TestCreate_ValidationErrors(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  apperrors.ErrorCode
	}{
		{
			name:     "bad phone",
			body:     strings.Replace(validBody, `"phone2": "1234"`, `"phone2": "12"`, 1),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  apperrors.ErrCodeValidationFailed,
		},
		{
			name:     "no consent",
			body:     strings.Replace(validBody, `"consent": true`, `"consent": false`, 1),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  apperrors.ErrCodeConsentRequired,
		},
		{
			name:     "malformed json",
			body:     `{"applicantName":`,
			wantCode: http.StatusBadRequest,
			wantErr:  apperrors.ErrCodeBadRequest,
		},
		{
			name:     "empty body",
			body:     ``,
			wantCode: http.StatusBadRequest,
			wantErr:  apperrors.ErrCodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/applications", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decode[apperrors.StandardError](t, rec).Code)
		})
	}
}

func TestCreate_FieldErrorsInMetadata(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)

	body := strings.Replace(validBody, `"phone2": "1234"`, `"phone2": "12"`, 1)
	stdErr := decode[apperrors.StandardError](t, do(t, h, http.MethodPost, "/api/applications", body))

	fields, ok := stdErr.Metadata["fieldErrors"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fields, "phone2")
}

func TestSetStatus_Workflow(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)
	id := create(t, h).ID

	rec := do(t, h, http.MethodPatch, "/api/applications/"+id+"/status", `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.ErrCodeIllegalTransition, decode[apperrors.StandardError](t, rec).Code)

	rec = do(t, h, http.MethodPatch, "/api/applications/"+id+"/status", `{"status":"contacted"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[gateway.Result](t, rec)
	assert.Equal(t, models.StatusPending, res.Previous)
	assert.Equal(t, models.StatusContacted, res.Status)

	rec = do(t, h, http.MethodPatch, "/api/applications/"+id+"/status", `{"status":"bogus"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	stats := decode[map[string]interface{}](t, do(t, h, http.MethodGet, "/api/applications/stats", ""))
	assert.EqualValues(t, 1, stats["total"])
}

func TestSetStatus_UnknownID(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)

	rec := do(t, h, http.MethodPatch, "/api/applications/missing/status", `{"status":"contacted"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)
	id := create(t, h).ID

	rec := do(t, h, http.MethodDelete, "/api/applications/"+id, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/applications/"+id+"?confirm=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/applications/"+id+"?confirm=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/applications/"+id+"/status", `{"status":"contacted"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList_StoreUnavailable(t *testing.T) {
	h := newTestServer(t, brokenStore{store.NewMemoryStore()}, nil)

	rec := do(t, h, http.MethodGet, "/api/applications", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	stdErr := decode[apperrors.StandardError](t, rec)
	assert.Equal(t, apperrors.ErrCodeStoreUnavailable, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestSearch(t *testing.T) {
	parts := models.PhoneParts{P1: "010", P2: "1234", P3: "5678"}
	searcher := &stubSearcher{leads: []models.Lead{{
		ID:          "a",
		LeadPayload: models.LeadPayload{ApplicantName: "kim", Phone: parts.Assemble(), PhoneParts: parts},
		Status:      models.StatusContacted,
		CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}}}
	h := newTestServer(t, store.NewMemoryStore(), func(d *Deps) { d.Search = searcher })

	rec := do(t, h, http.MethodGet, "/api/applications/search?q=kim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kim", searcher.query)
	assert.Contains(t, rec.Body.String(), `"statusLabel":"연락완료"`)

	rec = do(t, h, http.MethodGet, "/api/applications/search?q=", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_SizeIsCapped(t *testing.T) {
	searcher := &stubSearcher{}
	h := newTestServer(t, store.NewMemoryStore(), func(d *Deps) { d.Search = searcher })

	tests := []struct {
		query string
		want  int
	}{
		{"size=20000", maxSearchSize},
		{"size=30", 30},
		{"size=abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/applications/search?q=kim&"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, searcher.size)
		})
	}
}

func TestSearch_DisabledIsNotRouted(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), nil)

	rec := do(t, h, http.MethodGet, "/api/applications/search?q=kim", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t, store.NewMemoryStore(), func(d *Deps) {
		d.Checks = map[string]ReadinessCheck{
			"store": func(context.Context) error { return nil },
		}
	})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "").Code)

	h = newTestServer(t, store.NewMemoryStore(), func(d *Deps) {
		d.Checks = map[string]ReadinessCheck{
			"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})
	rec := do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}
