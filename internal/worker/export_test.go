package worker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/render"
)

type fakeExportStore struct {
	recs        map[string]*domain.ExportRecord
	snapshots   map[string]*domain.SubjectSnapshot
	progressLog []int
}

func newFakeExportStore() *fakeExportStore {
	return &fakeExportStore{
		recs:      make(map[string]*domain.ExportRecord),
		snapshots: make(map[string]*domain.SubjectSnapshot),
	}
}

func (f *fakeExportStore) GetExport(_ context.Context, id string) (*domain.ExportRecord, error) {
	rec, ok := f.recs[id]
	if !ok {
		return nil, domain.ErrExportNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeExportStore) MarkExportProcessing(_ context.Context, id string, progress int) error {
	rec := f.recs[id]
	rec.Status = domain.ExportProcessing
	if progress > rec.Progress {
		rec.Progress = progress
	}
	f.progressLog = append(f.progressLog, rec.Progress)
	return nil
}

func (f *fakeExportStore) SetExportProgress(_ context.Context, id string, progress int) error {
	rec := f.recs[id]
	if rec.Status == domain.ExportProcessing && progress > rec.Progress {
		rec.Progress = progress
	}
	f.progressLog = append(f.progressLog, rec.Progress)
	return nil
}

func (f *fakeExportStore) CompleteExport(_ context.Context, id, url, name string, size int64) error {
	rec := f.recs[id]
	now := time.Now()
	rec.Status = domain.ExportCompleted
	rec.Progress = 100
	rec.ArtifactURL = url
	rec.ArtifactName = name
	rec.ArtifactSizeBytes = size
	rec.ErrorMessage = ""
	rec.CompletedAt = &now
	f.progressLog = append(f.progressLog, 100)
	return nil
}

func (f *fakeExportStore) FailExport(_ context.Context, id, message string) error {
	rec := f.recs[id]
	now := time.Now()
	rec.Status = domain.ExportFailed
	rec.ErrorMessage = message
	rec.ArtifactURL = ""
	rec.ArtifactName = ""
	rec.ArtifactSizeBytes = 0
	rec.CompletedAt = &now
	return nil
}

func (f *fakeExportStore) SubjectSnapshot(_ context.Context, subjectID string, _ map[string]string) (*domain.SubjectSnapshot, error) {
	snap, ok := f.snapshots[subjectID]
	if !ok {
		return nil, domain.ErrSubjectNotFound
	}
	return snap, nil
}

type fakeUploader struct {
	keys    []string
	objects map[string][]byte
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string][]byte)}
}

func (f *fakeUploader) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	f.objects[key] = data
	return "https://cdn.test/" + key, nil
}

type fakeEmitter struct {
	events []string
}

func (f *fakeEmitter) Emit(_ context.Context, event string, _ any) {
	f.events = append(f.events, event)
}

func exportFixture(store *fakeExportStore, kind domain.ExportKind) *domain.ExportRecord {
	rec := &domain.ExportRecord{
		ID:          "exp-1",
		SubjectID:   "cfg-1",
		RequesterID: "user-1",
		Kind:        kind,
		Status:      domain.ExportPending,
	}
	store.recs[rec.ID] = rec
	store.snapshots[rec.SubjectID] = &domain.SubjectSnapshot{
		ID: "cfg-1", Name: "Classic Chair", Currency: "USD", BasePrice: 100,
		Selected: []domain.SelectedOption{
			{ComponentID: "seat", OptionID: "leather", Label: "Leather", PriceDelta: 40},
		},
	}
	return rec
}

func exportJob(attempt int) *domain.Job {
	return &domain.Job{
		ID:          "exp-1",
		Queue:       "exports",
		Type:        "export.generate",
		Payload:     []byte(`{"exportId":"exp-1"}`),
		Attempt:     attempt,
		MaxAttempts: 3,
		Backoff:     domain.BackoffExponential,
		BackoffBase: 2 * time.Second,
	}
}

func TestExportHappyPath(t *testing.T) {
	store := newFakeExportStore()
	uploader := newFakeUploader()
	emitter := &fakeEmitter{}
	exportFixture(store, domain.ExportDocument)
	w := NewExportWorker(store, render.Default(), uploader, emitter, zap.NewNop())

	require.NoError(t, w.Handle(context.Background(), exportJob(1)))

	rec := store.recs["exp-1"]
	assert.Equal(t, domain.ExportCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "https://cdn.test/exports/exp-1/exp-1.pdf", rec.ArtifactURL)
	assert.Equal(t, "exp-1.pdf", rec.ArtifactName)
	assert.Greater(t, rec.ArtifactSizeBytes, int64(0))
	assert.Empty(t, rec.ErrorMessage)
	assert.NotNil(t, rec.CompletedAt)
	assert.Equal(t, []string{"export.completed"}, emitter.events)

	// Progress only ever moves forward.
	last := -1
	for _, p := range store.progressLog {
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
}

func TestExportSubjectDeletedFailsTerminally(t *testing.T) {
	store := newFakeExportStore()
	rec := exportFixture(store, domain.ExportImage)
	delete(store.snapshots, rec.SubjectID)
	w := NewExportWorker(store, render.Default(), newFakeUploader(), &fakeEmitter{}, zap.NewNop())

	err := w.Handle(context.Background(), exportJob(1))
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err), "missing subject must not be retried")

	assert.Equal(t, domain.ExportFailed, store.recs["exp-1"].Status)
	assert.NotEmpty(t, store.recs["exp-1"].ErrorMessage)
	assert.Empty(t, store.recs["exp-1"].ArtifactURL)
}

func TestExportUploadFailureRetriesThenFails(t *testing.T) {
	store := newFakeExportStore()
	uploader := newFakeUploader()
	uploader.err = errors.New("storage 503")
	exportFixture(store, domain.ExportModel3D)
	w := NewExportWorker(store, render.Default(), uploader, &fakeEmitter{}, zap.NewNop())

	// Attempts remain: the error is transient and the record stays live.
	err := w.Handle(context.Background(), exportJob(1))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, domain.ExportProcessing, store.recs["exp-1"].Status)

	// Final attempt: record goes terminal with the last error preserved.
	err = w.Handle(context.Background(), exportJob(3))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	rec := store.recs["exp-1"]
	assert.Equal(t, domain.ExportFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "storage 503")
	assert.Empty(t, rec.ArtifactURL)
}

func TestExportDuplicateDeliveryReusesArtifactKey(t *testing.T) {
	store := newFakeExportStore()
	uploader := newFakeUploader()
	exportFixture(store, domain.ExportARIOS)
	w := NewExportWorker(store, render.Default(), uploader, &fakeEmitter{}, zap.NewNop())

	require.NoError(t, w.Handle(context.Background(), exportJob(1)))

	// Simulate a visibility timeout after the upload but before the ack:
	// the record is forced back to PROCESSING and the job redelivered.
	store.recs["exp-1"].Status = domain.ExportProcessing
	require.NoError(t, w.Handle(context.Background(), exportJob(2)))

	require.Len(t, uploader.keys, 2)
	assert.Equal(t, uploader.keys[0], uploader.keys[1], "retry must reuse the derived key")
	assert.Len(t, uploader.objects, 1, "no second artifact may exist")
}

func TestExportTerminalRecordIsLeftAlone(t *testing.T) {
	store := newFakeExportStore()
	uploader := newFakeUploader()
	emitter := &fakeEmitter{}
	rec := exportFixture(store, domain.ExportDocument)
	rec.Status = domain.ExportCompleted
	rec.ArtifactURL = "https://cdn.test/existing"
	w := NewExportWorker(store, render.Default(), uploader, emitter, zap.NewNop())

	require.NoError(t, w.Handle(context.Background(), exportJob(2)))
	assert.Empty(t, uploader.keys, "no re-render on duplicate delivery of a finished export")
	assert.Empty(t, emitter.events)
	assert.Equal(t, "https://cdn.test/existing", store.recs["exp-1"].ArtifactURL)
}

func TestExportUnknownKindFails(t *testing.T) {
	store := newFakeExportStore()
	exportFixture(store, domain.ExportKind("HOLOGRAM"))
	w := NewExportWorker(store, render.Default(), newFakeUploader(), &fakeEmitter{}, zap.NewNop())

	err := w.Handle(context.Background(), exportJob(1))
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
	assert.Equal(t, domain.ExportFailed, store.recs["exp-1"].Status)
}
