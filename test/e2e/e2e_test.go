// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"leadflow/internal/api"
	"leadflow/internal/common/config"
	"leadflow/internal/common/database"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/observability"
	"leadflow/internal/feed"
	"leadflow/internal/gateway"
	"leadflow/internal/intake"
	"leadflow/internal/models"
	"leadflow/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	frameTimeout = 5 * time.Second
	channel      = "applications:changes"
)

var seoul = time.FixedZone("KST", 9*60*60)

// instance is one lead server process: its own bus, hub and HTTP surface
// over a store shared with the other instances.
type instance struct {
	srv *httptest.Server
	hub *feed.Hub
}

func startInstance(t *testing.T, shared store.Store, redisAddr string) *instance {
	t.Helper()
	log := logger.NewNoOpLogger()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { rdb.Close() })

	bus := feed.NewRedisBus(rdb, channel, log)
	records := store.NewNotifying(shared, bus, log)
	hub := feed.NewHub(records, bus, feed.Config{ResyncDelay: 20 * time.Millisecond}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		_, ok := hub.Latest()
		return ok
	}, frameTimeout, 10*time.Millisecond)

	validator, err := intake.NewValidator(intake.Config{Variant: intake.VariantPregnancyWeeks})
	require.NoError(t, err)

	server := api.NewServer(api.Deps{
		Intake:   intake.NewService(validator, records, nil, log),
		Gateway:  gateway.New(records, observability.NewNoop(), log),
		Store:    records,
		Feed:     feed.NewWSHandler(hub, seoul, nil, log),
		Location: seoul,
	}, log)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &instance{srv: srv, hub: hub}
}

func (in *instance) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, in.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (in *instance) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(in.srv.URL, "http") + "/ws/applications"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// awaitFrame reads snapshot frames until one satisfies match.
func awaitFrame(t *testing.T, conn *websocket.Conn, match func(feed.SnapshotView) bool) feed.SnapshotView {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var frame feed.SnapshotView
		require.NoError(t, conn.ReadJSON(&frame), "no matching frame before deadline")
		if match(frame) {
			return frame
		}
	}
}

func recordByID(frame feed.SnapshotView, id string) (feed.LeadView, bool) {
	for _, r := range frame.Records {
		if r.ID == id {
			return r, true
		}
	}
	return feed.LeadView{}, false
}

func submission(name, phone2 string) string {
	return `{
		"applicantName": "` + name + `",
		"phone2": "` + phone2 + `",
		"phone3": "5678",
		"pregnancyWeeks": "22",
		"budget": "100k-200k",
		"consent": true
	}`
}

func TestE2E_IntakeMutationsAndLiveFeedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	shared := store.NewMemoryStore()

	front := startInstance(t, shared, mr.Addr())
	backOffice := startInstance(t, shared, mr.Addr())

	operatorA := backOffice.connect(t)
	operatorB := front.connect(t)
	initial := awaitFrame(t, operatorA, func(feed.SnapshotView) bool { return true })
	assert.Empty(t, initial.Records)

	// Intake lands on one instance; operators on both see it.
	started := time.Now().UTC().Truncate(time.Second)
	resp := front.request(t, http.MethodPost, "/api/applications", submission("정다은", "1234"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID        string        `json:"id"`
		Status    models.Status `json:"status"`
		CreatedAt time.Time     `json:"createdAt"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, models.StatusPending, created.Status)
	assert.False(t, created.CreatedAt.Before(started))

	for _, conn := range []*websocket.Conn{operatorA, operatorB} {
		frame := awaitFrame(t, conn, func(f feed.SnapshotView) bool {
			_, ok := recordByID(f, created.ID)
			return ok
		})
		rec, _ := recordByID(frame, created.ID)
		assert.Equal(t, "010-1234-5678", rec.Phone, "phone1 defaults to 010")
		assert.Equal(t, "대기", rec.StatusLabel)
		assert.Equal(t, models.StatusContacted, rec.NextStatus)
		assert.Equal(t, 1, frame.Counts.Of(models.StatusPending))
	}

	// A second lead sorts first.
	resp = front.request(t, http.MethodPost, "/api/applications", submission("한지민", "9999"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	frame := awaitFrame(t, operatorA, func(f feed.SnapshotView) bool { return len(f.Records) == 2 })
	assert.Equal(t, "한지민", frame.Records[0].ApplicantName)

	// Illegal jump is rejected and nothing changes.
	resp = backOffice.request(t, http.MethodPatch, "/api/applications/"+created.ID+"/status", `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = backOffice.request(t, http.MethodPatch, "/api/applications/"+created.ID+"/status", `{"status":"contacted"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frame = awaitFrame(t, operatorB, func(f feed.SnapshotView) bool {
		rec, ok := recordByID(f, created.ID)
		return ok && rec.Status == models.StatusContacted
	})
	assert.Equal(t, 1, frame.Counts.Of(models.StatusContacted))
	assert.Equal(t, 1, frame.Counts.Of(models.StatusPending))

	resp = backOffice.request(t, http.MethodPatch, "/api/applications/"+created.ID+"/status", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Delete needs confirmation, then disappears everywhere.
	resp = backOffice.request(t, http.MethodDelete, "/api/applications/"+created.ID, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = backOffice.request(t, http.MethodDelete, "/api/applications/"+created.ID+"?confirm=true", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	frame = awaitFrame(t, operatorB, func(f feed.SnapshotView) bool {
		_, ok := recordByID(f, created.ID)
		return !ok
	})
	assert.Equal(t, 1, frame.Counts.Total)

	resp = front.request(t, http.MethodPatch, "/api/applications/"+created.ID+"/status", `{"status":"contacted"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestE2E_ReconnectGetsFreshSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	in := startInstance(t, store.NewMemoryStore(), mr.Addr())

	conn := in.connect(t)
	awaitFrame(t, conn, func(feed.SnapshotView) bool { return true })
	conn.Close()
	require.Eventually(t, func() bool { return in.hub.SubscriberCount() == 0 }, frameTimeout, 10*time.Millisecond)

	resp := in.request(t, http.MethodPost, "/api/applications", submission("오하늘", "3456"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	again := in.connect(t)
	frame := awaitFrame(t, again, func(feed.SnapshotView) bool { return true })
	require.Len(t, frame.Records, 1)
	assert.Equal(t, "오하늘", frame.Records[0].ApplicantName)
}

// TestE2E_Postgres runs against a real database when LEADFLOW_E2E_POSTGRES_DSN
// is set.
func TestE2E_Postgres(t *testing.T) {
	dsn := os.Getenv("LEADFLOW_E2E_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping test: LEADFLOW_E2E_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx), "PostgreSQL ping failed")
	require.NoError(t, database.EnsureSchema(ctx, db))

	pg := store.NewPostgresStore(db, config.StoreConfig{MaxRetries: 3, RetryDelay: 50, MaxDelay: 500, QueryTimeout: 5000}, logger.NewTestLogger(t))
	parts := models.PhoneParts{P1: "010", P2: "7777", P3: "8888"}
	lead, err := pg.Create(ctx, &models.LeadPayload{
		ApplicantName: "e2e",
		Phone:         parts.Assemble(),
		PhoneParts:    parts,
		Budget:        models.BudgetUnder50k,
		ConsentGiven:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pg.Delete(context.Background(), lead.ID) })

	got, err := pg.Get(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.Phone, got.Phone)
	assert.Equal(t, models.StatusPending, got.Status)

	g := gateway.New(pg, observability.NewNoop(), logger.NewTestLogger(t))
	_, err = g.SetStatus(ctx, lead.ID, models.StatusContacted)
	require.NoError(t, err)

	listed, err := pg.List(ctx)
	require.NoError(t, err)
	found := false
	for _, l := range listed {
		if l.ID == lead.ID {
			found = true
			assert.Equal(t, models.StatusContacted, l.Status)
		}
	}
	assert.True(t, found)

	_, err = g.DeleteRecord(ctx, lead.ID)
	require.NoError(t, err)
	_, err = pg.Get(ctx, lead.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
