package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/queue"
)

type fakeStore struct {
	recs map[string]*domain.ExportRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]*domain.ExportRecord)}
}

func (f *fakeStore) CreateExport(_ context.Context, rec *domain.ExportRecord) error {
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetExport(_ context.Context, id string) (*domain.ExportRecord, error) {
	rec, ok := f.recs[id]
	if !ok {
		return nil, domain.ErrExportNotFound
	}
	return rec, nil
}

type enqueued struct {
	queue, jobType string
	payload        any
	ov             *queue.Overrides
}

type fakeDispatcher struct {
	calls []enqueued
}

func (f *fakeDispatcher) Enqueue(_ context.Context, queueName, jobType string, payload any, ov *queue.Overrides) (string, error) {
	f.calls = append(f.calls, enqueued{queueName, jobType, payload, ov})
	if ov != nil && ov.JobID != "" {
		return ov.JobID, nil
	}
	return "generated-id", nil
}

func newTestServer() (*Server, *fakeStore, *fakeDispatcher) {
	store := newFakeStore()
	dispatch := &fakeDispatcher{}
	return NewServer(store, dispatch, zap.NewNop()), store, dispatch
}

func do(t *testing.T, s *Server, method, path, requester string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if requester != "" {
		req.Header.Set(RequesterHeader, requester)
	}
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	return rr
}

func TestCreateExportEnqueuesWithRecordID(t *testing.T) {
	s, store, dispatch := newTestServer()

	rr := do(t, s, http.MethodPost, "/v1/exports", "user-1", map[string]any{
		"subjectId": "cfg-1",
		"kind":      "DOCUMENT",
		"format":    "pdf",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	exportID := resp["exportId"].(string)
	require.NotEmpty(t, exportID)
	assert.Equal(t, string(domain.ExportPending), resp["status"])

	rec := store.recs[exportID]
	require.NotNil(t, rec)
	assert.Equal(t, "user-1", rec.RequesterID)

	require.Len(t, dispatch.calls, 1)
	call := dispatch.calls[0]
	assert.Equal(t, queue.QueueExports, call.queue)
	assert.Equal(t, queue.TypeExportGenerate, call.jobType)
	require.NotNil(t, call.ov)
	assert.Equal(t, exportID, call.ov.JobID, "job id must be the export id for dedup")
}

func TestCreateExportRejectsUnknownKind(t *testing.T) {
	s, store, dispatch := newTestServer()

	rr := do(t, s, http.MethodPost, "/v1/exports", "user-1", map[string]any{
		"subjectId": "cfg-1",
		"kind":      "HOLOGRAM",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, store.recs)
	assert.Empty(t, dispatch.calls)
}

func TestGetExportAuthorization(t *testing.T) {
	s, store, _ := newTestServer()
	store.recs["e1"] = &domain.ExportRecord{
		ID: "e1", RequesterID: "owner", Status: domain.ExportProcessing, Progress: 60,
	}

	rr := do(t, s, http.MethodGet, "/v1/exports/e1", "owner", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"progress":60`)

	rr = do(t, s, http.MethodGet, "/v1/exports/e1", "intruder", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotContains(t, rr.Body.String(), "progress", "status must not leak")

	rr = do(t, s, http.MethodGet, "/v1/exports/e1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetExportStatusShapes(t *testing.T) {
	s, store, _ := newTestServer()
	store.recs["done"] = &domain.ExportRecord{
		ID: "done", RequesterID: "u", Status: domain.ExportCompleted,
		Progress: 100, ArtifactURL: "https://cdn.test/a.pdf", ArtifactName: "a.pdf",
	}
	store.recs["broken"] = &domain.ExportRecord{
		ID: "broken", RequesterID: "u", Status: domain.ExportFailed,
		ErrorMessage: "render: bad geometry",
	}

	rr := do(t, s, http.MethodGet, "/v1/exports/done", "u", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "https://cdn.test/a.pdf")
	assert.NotContains(t, rr.Body.String(), "errorMessage")

	rr = do(t, s, http.MethodGet, "/v1/exports/broken", "u", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "render: bad geometry")
	assert.NotContains(t, rr.Body.String(), "artifactUrl")
}

func TestDownloadNotReady(t *testing.T) {
	s, store, _ := newTestServer()
	store.recs["e1"] = &domain.ExportRecord{ID: "e1", RequesterID: "u", Status: domain.ExportProcessing}

	rr := do(t, s, http.MethodGet, "/v1/exports/e1/download", "u", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}

func TestDownloadRedirectsWhenCompleted(t *testing.T) {
	s, store, _ := newTestServer()
	store.recs["e1"] = &domain.ExportRecord{
		ID: "e1", RequesterID: "u", Status: domain.ExportCompleted,
		ArtifactURL: "https://cdn.test/exports/e1/e1.pdf",
	}

	rr := do(t, s, http.MethodGet, "/v1/exports/e1/download", "u", nil)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://cdn.test/exports/e1/e1.pdf", rr.Header().Get("Location"))

	rr = do(t, s, http.MethodGet, "/v1/exports/e1/download", "someone-else", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))
}

func TestTriggerAggregationDefaultsToYesterday(t *testing.T) {
	s, _, dispatch := newTestServer()

	rr := do(t, s, http.MethodPost, "/v1/analytics/aggregate", "", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, dispatch.calls, 1)
	call := dispatch.calls[0]
	assert.Equal(t, queue.QueueAnalytics, call.queue)
	assert.Equal(t, queue.TypeAggregateDaily, call.jobType)
	require.NotNil(t, call.ov)
	assert.Contains(t, call.ov.JobID, "aggregate:", "full-day runs dedupe by date")
}

func TestTriggerAggregationRejectsBadDate(t *testing.T) {
	s, _, dispatch := newTestServer()

	rr := do(t, s, http.MethodPost, "/v1/analytics/aggregate", "", map[string]any{"date": "31/12/2025"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, dispatch.calls)
}

func TestTriggerAggregationSubsetGetsFreshJobID(t *testing.T) {
	s, _, dispatch := newTestServer()

	rr := do(t, s, http.MethodPost, "/v1/analytics/aggregate", "",
		map[string]any{"subjectIds": []string{"cfg-1"}, "date": "2026-08-29"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, dispatch.calls, 1)
	assert.Empty(t, dispatch.calls[0].ov.JobID, "subset runs must not steal the daily dedup id")
}
