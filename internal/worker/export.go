package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/blob"
	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/events"
	"github.com/you/jobcore/internal/render"
)

// ExportStore is the slice of the persistence layer the export pipeline
// touches.
type ExportStore interface {
	GetExport(ctx context.Context, id string) (*domain.ExportRecord, error)
	MarkExportProcessing(ctx context.Context, id string, progress int) error
	SetExportProgress(ctx context.Context, id string, progress int) error
	CompleteExport(ctx context.Context, id, artifactURL, artifactName string, sizeBytes int64) error
	FailExport(ctx context.Context, id, message string) error
	SubjectSnapshot(ctx context.Context, subjectID string, selections map[string]string) (*domain.SubjectSnapshot, error)
}

// ExportWorker drives an export record through
// PENDING -> PROCESSING -> {COMPLETED | FAILED} while rendering and
// uploading the artifact. Every step is safe to re-run after a duplicate
// delivery: progress only moves forward, the artifact key derives from the
// export id, and terminal records are left untouched.
type ExportWorker struct {
	store     ExportStore
	renderers map[domain.ExportKind]render.Renderer
	uploader  blob.Uploader
	emitter   events.Emitter
	log       *zap.Logger
}

func NewExportWorker(store ExportStore, renderers map[domain.ExportKind]render.Renderer, uploader blob.Uploader, emitter events.Emitter, log *zap.Logger) *ExportWorker {
	return &ExportWorker{store: store, renderers: renderers, uploader: uploader, emitter: emitter, log: log}
}

type exportPayload struct {
	ExportID string `json:"exportId"`
}

func (w *ExportWorker) Handle(ctx context.Context, job *domain.Job) error {
	var p exportPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.ExportID == "" {
		return errors.New("export job payload missing exportId")
	}
	log := w.log.With(zap.String("export_id", p.ExportID))

	rec, err := w.store.GetExport(ctx, p.ExportID)
	if errors.Is(err, domain.ErrExportNotFound) {
		return err
	}
	if err != nil {
		return domain.Transientf(err, "load export %s", p.ExportID)
	}
	if rec.Status == domain.ExportCompleted || rec.Status == domain.ExportFailed {
		// Duplicate delivery after the record already finished.
		log.Info("export already terminal", zap.String("status", string(rec.Status)))
		return nil
	}

	if err := w.store.MarkExportProcessing(ctx, rec.ID, 10); err != nil {
		return w.transientOrFail(ctx, job, rec.ID, errors.Wrap(err, "mark processing"))
	}

	snap, err := w.store.SubjectSnapshot(ctx, rec.SubjectID, selectionsFromOptions(rec.Options))
	if errors.Is(err, domain.ErrSubjectNotFound) {
		// The configuration was deleted mid-flight; retrying cannot help.
		return w.fail(ctx, rec.ID, err)
	}
	if err != nil {
		return w.transientOrFail(ctx, job, rec.ID, errors.Wrap(err, "load subject"))
	}
	if err := w.store.SetExportProgress(ctx, rec.ID, 30); err != nil {
		log.Warn("progress update failed", zap.Error(err))
	}

	renderer, ok := w.renderers[rec.Kind]
	if !ok {
		return w.fail(ctx, rec.ID, errors.Wrapf(domain.ErrUnsupportedExportKind, "%s", rec.Kind))
	}
	artifact, err := renderer.Render(ctx, rec, snap)
	if err != nil {
		if domain.IsTransient(err) {
			return w.transientOrFail(ctx, job, rec.ID, err)
		}
		return w.fail(ctx, rec.ID, errors.Wrap(err, "render"))
	}
	if err := w.store.SetExportProgress(ctx, rec.ID, 60); err != nil {
		log.Warn("progress update failed", zap.Error(err))
	}

	// Key derived from the export id, never random: a retried upload
	// overwrites the same object instead of creating a second artifact.
	name := rec.ID + artifact.Ext
	key := fmt.Sprintf("exports/%s/%s", rec.ID, name)
	url, err := w.uploader.Upload(ctx, key, artifact.Bytes, artifact.MIME)
	if err != nil {
		return w.transientOrFail(ctx, job, rec.ID, errors.Wrap(err, "upload artifact"))
	}

	if err := w.store.CompleteExport(ctx, rec.ID, url, name, int64(len(artifact.Bytes))); err != nil {
		return w.transientOrFail(ctx, job, rec.ID, errors.Wrap(err, "complete export"))
	}

	w.emitter.Emit(ctx, events.ExportCompleted, map[string]any{
		"exportId":    rec.ID,
		"subjectId":   rec.SubjectID,
		"kind":        rec.Kind,
		"artifactUrl": url,
	})
	log.Info("export completed",
		zap.String("kind", string(rec.Kind)),
		zap.String("artifact_url", url),
		zap.Int("size_bytes", len(artifact.Bytes)))
	return nil
}

// fail terminally fails the record and returns the cause so the job is
// dead-lettered alongside it.
func (w *ExportWorker) fail(ctx context.Context, exportID string, cause error) error {
	if err := w.store.FailExport(ctx, exportID, cause.Error()); err != nil {
		w.log.Error("failed to record export failure",
			zap.String("export_id", exportID), zap.Error(err))
	}
	return cause
}

// transientOrFail marks the error retryable; on the final attempt the
// record is failed first so its terminal state matches the dead-lettered
// job.
func (w *ExportWorker) transientOrFail(ctx context.Context, job *domain.Job, exportID string, cause error) error {
	if job.LastAttempt() {
		return domain.Transient(w.fail(ctx, exportID, cause))
	}
	return domain.Transient(cause)
}

func selectionsFromOptions(options map[string]any) map[string]string {
	raw, ok := options["selections"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for component, option := range raw {
		if s, ok := option.(string); ok {
			out[component] = s
		}
	}
	return out
}
