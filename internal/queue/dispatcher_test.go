package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
)

type fakeJobStore struct {
	jobs map[string]*domain.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*domain.Job)}
}

func (f *fakeJobStore) CreateJob(_ context.Context, job *domain.Job) (bool, error) {
	if _, ok := f.jobs[job.ID]; ok {
		return false, nil
	}
	f.jobs[job.ID] = job
	return true, nil
}

type fakeTransport struct {
	pushed []string
}

func (f *fakeTransport) Push(_ context.Context, queue, jobID string, _ time.Time) error {
	f.pushed = append(f.pushed, queue+"/"+jobID)
	return nil
}

func TestRegistryResolve(t *testing.T) {
	reg := DefaultRegistry()

	def, err := reg.Resolve(QueueExports, TypeExportGenerate)
	require.NoError(t, err)
	assert.Equal(t, 3, def.Defaults.MaxAttempts)
	assert.Equal(t, domain.BackoffExponential, def.Defaults.Backoff)
	assert.Equal(t, 2*time.Second, def.Defaults.BackoffBase)
	assert.Equal(t, 100, def.Defaults.KeepSucceeded)
	assert.Equal(t, 200, def.Defaults.KeepFailed)

	_, err = reg.Resolve("no-such-queue", TypeExportGenerate)
	assert.ErrorIs(t, err, domain.ErrUnknownQueue)

	_, err = reg.Resolve(QueueExports, TypeAggregateDaily)
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestEnqueueValidJob(t *testing.T) {
	store := newFakeJobStore()
	transport := &fakeTransport{}
	d := NewDispatcher(DefaultRegistry(), store, transport, zap.NewNop())

	id, err := d.Enqueue(context.Background(), QueueExports, TypeExportGenerate,
		map[string]any{"exportId": "e1"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := store.jobs[id]
	require.NotNil(t, job)
	assert.Equal(t, QueueExports, job.Queue)
	assert.Equal(t, TypeExportGenerate, job.Type)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, domain.Queued, job.Status)
	assert.JSONEq(t, `{"exportId":"e1"}`, string(job.Payload))
	assert.Equal(t, []string{QueueExports + "/" + id}, transport.pushed)
}

func TestEnqueueUnknownQueueDoesNotEnqueue(t *testing.T) {
	store := newFakeJobStore()
	transport := &fakeTransport{}
	d := NewDispatcher(DefaultRegistry(), store, transport, zap.NewNop())

	_, err := d.Enqueue(context.Background(), "mystery", TypeExportGenerate, nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownQueue)
	assert.Empty(t, store.jobs)
	assert.Empty(t, transport.pushed)
}

func TestEnqueueUnknownJobType(t *testing.T) {
	d := NewDispatcher(DefaultRegistry(), newFakeJobStore(), &fakeTransport{}, zap.NewNop())

	_, err := d.Enqueue(context.Background(), QueueAnalytics, "analytics.unknown", nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestEnqueueUnserializablePayload(t *testing.T) {
	store := newFakeJobStore()
	d := NewDispatcher(DefaultRegistry(), store, &fakeTransport{}, zap.NewNop())

	_, err := d.Enqueue(context.Background(), QueueExports, TypeExportGenerate,
		map[string]any{"ch": make(chan int)}, nil)
	assert.ErrorIs(t, err, domain.ErrPayloadNotSerializable)
	assert.Empty(t, store.jobs)
}

func TestEnqueueExplicitIDIsIdempotent(t *testing.T) {
	store := newFakeJobStore()
	transport := &fakeTransport{}
	d := NewDispatcher(DefaultRegistry(), store, transport, zap.NewNop())

	ov := &Overrides{JobID: "export-42"}
	first, err := d.Enqueue(context.Background(), QueueExports, TypeExportGenerate,
		map[string]any{"exportId": "export-42"}, ov)
	require.NoError(t, err)
	second, err := d.Enqueue(context.Background(), QueueExports, TypeExportGenerate,
		map[string]any{"exportId": "export-42"}, ov)
	require.NoError(t, err)

	assert.Equal(t, "export-42", first)
	assert.Equal(t, first, second)
	assert.Len(t, store.jobs, 1)
	// The duplicate enqueue must not push a second execution.
	assert.Len(t, transport.pushed, 1)
}

func TestEnqueueOverridesMergeUnderDefaults(t *testing.T) {
	store := newFakeJobStore()
	d := NewDispatcher(DefaultRegistry(), store, &fakeTransport{}, zap.NewNop())

	id, err := d.Enqueue(context.Background(), QueueExports, TypeExportGenerate, nil,
		&Overrides{MaxAttempts: 5, BackoffBase: time.Second, Delay: time.Minute})
	require.NoError(t, err)

	job := store.jobs[id]
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, time.Second, job.BackoffBase)
	// Defaults the override did not touch survive the merge.
	assert.Equal(t, domain.BackoffExponential, job.Backoff)
	assert.Equal(t, 100, job.KeepSucceeded)
	assert.True(t, job.RunAt.After(time.Now().UTC().Add(30*time.Second)))
}
