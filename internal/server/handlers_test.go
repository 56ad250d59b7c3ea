package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	"git.home.luguber.info/inful/bookbinder/internal/eventstore"
	"git.home.luguber.info/inful/bookbinder/internal/generate"
	"git.home.luguber.info/inful/bookbinder/internal/job"
	"git.home.luguber.info/inful/bookbinder/internal/model"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// acceptQueue accepts every job without running it; handler tests drive
// state transitions through the job store directly.
type acceptQueue struct{}

func (acceptQueue) Enqueue(*job.Job) error { return nil }

type serverFixture struct {
	ts      *httptest.Server
	catalog *catalog.SQLiteStore
	store   *storage.MockStore
	jobs    *job.SQLiteStore
	events  *eventstore.SQLiteStore
	service *generate.Service
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()

	cat, err := catalog.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	jobs, err := job.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	events, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	store := storage.NewMockStore()
	svc := generate.NewService(cat, store, jobs, nil)
	svc.SetQueue(acceptQueue{})
	svc.SetAuditor(eventstore.NewEmitter(events))

	srv := New(":0", svc, events, store, cat, nil)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, catalog: cat, store: store, jobs: jobs, events: events, service: svc}
}

// seedStaticBook installs a customer and a one-page static book.
func (f *serverFixture) seedStaticBook(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.catalog.PutCustomer(ctx, model.Customer{ID: "c1", Name: "ACME"}))
	ref, err := f.store.Put(ctx, &storage.Object{Type: storage.ObjectTypeSource, Data: []byte("cover")})
	require.NoError(t, err)
	require.NoError(t, f.catalog.PutBook(ctx, model.Book{
		ID: "b1", Name: "Static",
		Pages: []model.Page{{ID: "p1", Type: model.PageStatic, ContentRef: ref}},
	}))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSubmitJobAccepted(t *testing.T) {
	f := newFixture(t)
	f.seedStaticBook(t)

	resp := postJSON(t, f.ts.URL+"/api/jobs", generate.SubmitRequest{
		BookID: "b1", CustomerID: "c1",
		Period: model.Period{Year: 2024, Quarter: 3},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var j job.Job
	decodeBody(t, resp, &j)
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, job.StateQueued, j.State)

	// The submission is on the audit trail.
	events, err := f.events.GetByJobID(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventstore.TypeJobSubmitted, events[0].Type())
}

func TestSubmitJobValidationRejected(t *testing.T) {
	f := newFixture(t)
	f.seedStaticBook(t)

	resp := postJSON(t, f.ts.URL+"/api/jobs", generate.SubmitRequest{
		BookID: "b1", CustomerID: "ghost",
		Period: model.Period{Year: 2024, Quarter: 3},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body errorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "validation", body.Error.Kind)
	assert.Contains(t, body.Error.Message, "ghost")
}

func TestSubmitJobBadJSON(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/api/jobs", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	f.seedStaticBook(t)

	resp := postJSON(t, f.ts.URL+"/api/jobs", generate.SubmitRequest{
		BookID: "b1", CustomerID: "c1",
		Period: model.Period{Year: 2024, Quarter: 3},
	})
	var created job.Job
	decodeBody(t, resp, &created)

	resp2, err := http.Get(f.ts.URL + "/api/jobs/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var status generate.Status
	decodeBody(t, resp2, &status)
	assert.Equal(t, created.ID, status.JobID)
	assert.Equal(t, job.StateQueued, status.State)
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/api/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outRef, err := f.store.Put(ctx, &storage.Object{Type: storage.ObjectTypeOutput, Data: []byte("%PDF result")})
	require.NoError(t, err)

	j := job.New("b1", "c1", model.Period{Year: 2024, Quarter: 3}, "")
	require.NoError(t, f.jobs.Create(ctx, j))
	claimed, err := f.jobs.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.jobs.MarkDone(ctx, j.ID, outRef))

	resp, err := http.Get(f.ts.URL + "/api/jobs/" + j.ID + "/output")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF result", buf.String())
}

func TestGetOutputBeforeDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := job.New("b1", "c1", model.Period{Year: 2024, Quarter: 3}, "")
	require.NoError(t, f.jobs.Create(ctx, j))

	resp, err := http.Get(f.ts.URL + "/api/jobs/" + j.ID + "/output")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestJobEvents(t *testing.T) {
	f := newFixture(t)
	f.seedStaticBook(t)

	resp := postJSON(t, f.ts.URL+"/api/jobs", generate.SubmitRequest{
		BookID: "b1", CustomerID: "c1",
		Period: model.Period{Year: 2024, Quarter: 3},
	})
	var created job.Job
	decodeBody(t, resp, &created)

	resp2, err := http.Get(f.ts.URL + "/api/jobs/" + created.ID + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var body struct {
		JobID  string         `json:"job_id"`
		Events []jobEventView `json:"events"`
	}
	decodeBody(t, resp2, &body)
	assert.Equal(t, created.ID, body.JobID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventstore.TypeJobSubmitted, body.Events[0].Type)
}

func TestJobEventsUnknownJob(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/api/jobs/nope/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadAsset(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.ts.URL+"/api/assets?kind=dataset&name=q3.xlsx",
		"application/octet-stream", bytes.NewReader([]byte("workbook bytes")))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Checksum string `json:"checksum"`
		Kind     string `json:"kind"`
		Size     int    `json:"size"`
	}
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body.Checksum)
	assert.Equal(t, "dataset", body.Kind)
	assert.Equal(t, len("workbook bytes"), body.Size)

	asset, err := f.catalog.GetAssetByChecksum(context.Background(), body.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "q3.xlsx", asset.Name)
	assert.Equal(t, model.AssetDataset, asset.Kind)

	// Re-uploading identical bytes yields the same reference.
	resp2, err := http.Post(f.ts.URL+"/api/assets?kind=dataset",
		"application/octet-stream", bytes.NewReader([]byte("workbook bytes")))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	var body2 struct {
		Checksum string `json:"checksum"`
	}
	decodeBody(t, resp2, &body2)
	assert.Equal(t, body.Checksum, body2.Checksum)
}

func TestUploadAssetRejectsBadKind(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/api/assets?kind=hologram",
		"application/octet-stream", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadAssetRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/api/assets", "application/octet-stream", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
