package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/queue"
)

// RequesterHeader carries the authenticated caller id, set by the gateway
// in front of this service. Authentication itself lives there, not here.
const RequesterHeader = "X-Requester-ID"

// ExportStore is what the handlers need from persistence.
type ExportStore interface {
	CreateExport(ctx context.Context, rec *domain.ExportRecord) error
	GetExport(ctx context.Context, id string) (*domain.ExportRecord, error)
}

// Dispatcher enqueues durable jobs.
type Dispatcher interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, ov *queue.Overrides) (string, error)
}

type Server struct {
	store    ExportStore
	dispatch Dispatcher
	log      *zap.Logger
}

func NewServer(store ExportStore, dispatch Dispatcher, log *zap.Logger) *Server {
	return &Server{store: store, dispatch: dispatch, log: log}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/v1/exports", s.createExport)
	r.Get("/v1/exports/{id}", s.getExport)
	r.Get("/v1/exports/{id}/download", s.downloadExport)
	r.Post("/v1/analytics/aggregate", s.triggerAggregation)
	return r
}

type createExportRequest struct {
	SubjectID string         `json:"subjectId"`
	Kind      string         `json:"kind"`
	Format    string         `json:"format"`
	Options   map[string]any `json:"options"`
}

func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(RequesterHeader)
	if requester == "" {
		writeError(w, http.StatusUnauthorized, "missing requester")
		return
	}
	var req createExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subjectId required")
		return
	}
	kind := domain.ExportKind(req.Kind)
	if !domain.ValidExportKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown export kind")
		return
	}

	rec := &domain.ExportRecord{
		ID:          uuid.NewString(),
		SubjectID:   req.SubjectID,
		RequesterID: requester,
		Kind:        kind,
		Format:      req.Format,
		Status:      domain.ExportPending,
		Options:     req.Options,
	}
	if err := s.store.CreateExport(r.Context(), rec); err != nil {
		s.log.Error("create export record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create export")
		return
	}

	// The record id doubles as the job id, so a client retry of this call
	// after a timeout cannot schedule the same export twice.
	if _, err := s.dispatch.Enqueue(r.Context(), queue.QueueExports, queue.TypeExportGenerate,
		map[string]any{"exportId": rec.ID}, &queue.Overrides{JobID: rec.ID}); err != nil {
		s.log.Error("enqueue export job", zap.String("export_id", rec.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not schedule export")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"exportId": rec.ID,
		"status":   rec.Status,
	})
}

// loadAuthorized fetches the record and enforces that the caller owns it.
// A foreign requester gets the same 403 regardless of record state so
// nothing leaks through probing.
func (s *Server) loadAuthorized(w http.ResponseWriter, r *http.Request) *domain.ExportRecord {
	requester := r.Header.Get(RequesterHeader)
	if requester == "" {
		writeError(w, http.StatusUnauthorized, "missing requester")
		return nil
	}
	rec, err := s.store.GetExport(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrExportNotFound) {
		writeError(w, http.StatusNotFound, "export not found")
		return nil
	}
	if err != nil {
		s.log.Error("load export record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load export")
		return nil
	}
	if rec.RequesterID != requester {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil
	}
	return rec
}

func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	rec := s.loadAuthorized(w, r)
	if rec == nil {
		return
	}
	resp := map[string]any{
		"exportId": rec.ID,
		"status":   rec.Status,
		"progress": rec.Progress,
	}
	if rec.Status == domain.ExportCompleted {
		resp["artifactUrl"] = rec.ArtifactURL
		resp["artifactName"] = rec.ArtifactName
		resp["artifactSizeBytes"] = rec.ArtifactSizeBytes
	}
	if rec.Status == domain.ExportFailed {
		resp["errorMessage"] = rec.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	rec := s.loadAuthorized(w, r)
	if rec == nil {
		return
	}
	if rec.Status != domain.ExportCompleted {
		writeError(w, http.StatusConflict, "not_ready")
		return
	}
	http.Redirect(w, r, rec.ArtifactURL, http.StatusFound)
}

type aggregateRequest struct {
	SubjectIDs []string `json:"subjectIds"`
	Date       string   `json:"date"`
}

// triggerAggregation is the externally-invoked entry point for the daily
// roll-up; the in-cluster scheduler uses the dispatcher directly.
func (s *Server) triggerAggregation(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
	}
	date := req.Date
	if date == "" {
		date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	// Full-day runs share one job id per date so repeated triggers for the
	// same day collapse into one execution.
	ov := &queue.Overrides{}
	if len(req.SubjectIDs) == 0 {
		ov.JobID = "aggregate:" + date
	}
	jobID, err := s.dispatch.Enqueue(r.Context(), queue.QueueAnalytics, queue.TypeAggregateDaily,
		map[string]any{"subjectIds": req.SubjectIDs, "date": date}, ov)
	if err != nil {
		s.log.Error("enqueue aggregation job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not schedule aggregation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": jobID, "date": date})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
