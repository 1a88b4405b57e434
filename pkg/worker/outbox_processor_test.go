package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/pkg/logger"
	"github.com/jwalitptl/econsult/pkg/messaging"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []*model.OutboxEvent
	processed []uuid.UUID
	failed    map[uuid.UUID]string
	getErr    error
}

func (f *fakeOutbox) Create(_ context.Context, e *model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, e)
	return nil
}

func (f *fakeOutbox) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if len(f.pending) < limit {
		limit = len(f.pending)
	}
	out := f.pending[:limit]
	f.pending = f.pending[limit:]
	return out, nil
}

func (f *fakeOutbox) MarkProcessed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, msg string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[uuid.UUID]string{}
	}
	f.failed[id] = msg
	return nil
}

func (f *fakeOutbox) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeBroker struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published map[string][]json.RawMessage
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failFirst {
		return errors.New("broker unavailable")
	}
	if b.published == nil {
		b.published = map[string][]json.RawMessage{}
	}
	b.published[channel] = append(b.published[channel], message.(json.RawMessage))
	return nil
}

func (b *fakeBroker) Consume(context.Context, string, messaging.ConsumerConfig, messaging.Handler) error {
	return errors.New("not supported")
}

func (b *fakeBroker) Close() error { return nil }

func newEvent(t *testing.T) *model.OutboxEvent {
	t.Helper()
	e, err := model.NewOutboxEvent(model.EventConsultSubmitted, model.ConsultSubmittedEvent{
		ConsultID:       uuid.New(),
		PatientInitials: "JD",
	})
	require.NoError(t, err)
	e.ID = uuid.New()
	return e
}

func newProcessor(repo *fakeOutbox, broker *fakeBroker, attempts int) (*OutboxProcessor, *metrics.Metrics) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), "test", "worker")
	p := NewOutboxProcessor(repo, broker, OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
		MaxRetries:    5,
	}, logger.Nop(), m)
	return p, m
}

func TestProcessBatch_PublishesByEventType(t *testing.T) {
	repo := &fakeOutbox{}
	first, second := newEvent(t), newEvent(t)
	repo.pending = []*model.OutboxEvent{first, second}
	broker := &fakeBroker{}
	p, m := newProcessor(repo, broker, 1)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, repo.processed)
	require.Len(t, broker.published[model.EventConsultSubmitted], 2)
	assert.JSONEq(t, string(first.Payload), string(broker.published[model.EventConsultSubmitted][0]))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsProcessed))
}

func TestProcessBatch_RetriesThenSucceeds(t *testing.T) {
	repo := &fakeOutbox{pending: []*model.OutboxEvent{newEvent(t)}}
	broker := &fakeBroker{failFirst: 2}
	p, m := newProcessor(repo, broker, 3)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, repo.failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxRetries.WithLabelValues(model.EventConsultSubmitted)))
}

func TestProcessBatch_MarksFailedAfterAttempts(t *testing.T) {
	event := newEvent(t)
	repo := &fakeOutbox{pending: []*model.OutboxEvent{event}}
	broker := &fakeBroker{failFirst: 10}
	p, m := newProcessor(repo, broker, 2)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "broker unavailable", repo.failed[event.ID])
	assert.Empty(t, repo.processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsFailed))
}

func TestProcessBatch_RepositoryError(t *testing.T) {
	repo := &fakeOutbox{getErr: errors.New("connection refused")}
	p, _ := newProcessor(repo, &fakeBroker{}, 1)

	_, err := p.ProcessBatch(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewOutboxProcessor_RejectsBadConfig(t *testing.T) {
	assert.Panics(t, func() {
		NewOutboxProcessor(&fakeOutbox{}, &fakeBroker{}, OutboxProcessorConfig{}, logger.Nop(), metrics.NewNop())
	})
}
