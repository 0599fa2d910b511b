package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/conductor-ai/conductor/internal/errors"
	"github.com/conductor-ai/conductor/pkg/store"
	"github.com/conductor-ai/conductor/pkg/telemetry"
)

const (
	// DefaultQueueWorkers caps concurrently running queued executions.
	DefaultQueueWorkers = 2

	// DefaultQueueRetention is how long finished records are kept.
	DefaultQueueRetention = 24 * time.Hour

	queueGCSchedule = "@every 10m"
)

// QueueConfig configures an execution queue.
type QueueConfig struct {
	Pipeline *Pipeline

	// Store persists records. Nil uses an in-memory store.
	Store store.ResultStore

	// Workers caps concurrently running executions. Zero means the default.
	Workers int

	// Retention is how long finished records survive before the periodic
	// sweep removes them. Zero means the default.
	Retention time.Duration

	Logger *zerolog.Logger
}

// Queue runs executions asynchronously: Submit returns an execution ID
// immediately and the result is retrieved later by ID. Results are persisted
// through a ResultStore and pruned on a schedule.
type Queue struct {
	pipeline  *Pipeline
	store     store.ResultStore
	retention time.Duration
	logger    zerolog.Logger
	cron      *cron.Cron

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewQueue creates and starts a queue. Close releases its workers and store.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New(errors.KindInternal, "queue requires a pipeline")
	}
	st := cfg.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultQueueWorkers
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultQueueRetention
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	q := &Queue{
		pipeline:  cfg.Pipeline,
		store:     st,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
		sem:       make(chan struct{}, workers),
		cancels:   make(map[string]context.CancelFunc),
	}
	if _, err := q.cron.AddFunc(queueGCSchedule, q.sweep); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "schedule queue retention sweep")
	}
	q.cron.Start()
	return q, nil
}

// Submit enqueues a request and returns its execution ID. The execution runs
// detached from the caller's context; use Cancel to stop it.
func (q *Queue) Submit(ctx context.Context, req Request) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", errors.New(errors.KindInternal, "queue is closed")
	}
	q.mu.Unlock()

	id, err := gonanoid.New()
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "generate execution id")
	}

	rec := store.Record{
		ID:          id,
		Status:      store.StatusPending,
		Input:       req.Input,
		SubmittedAt: time.Now().UTC(),
	}
	if err := q.store.Put(ctx, rec); err != nil {
		return "", err
	}

	q.pipeline.metrics.QueuedTotal.Inc()
	q.pipeline.metrics.QueueDepth.Inc()
	q.pipeline.emit(telemetry.Event{
		Type:        telemetry.EventQueueSubmitted,
		ExecutionID: id,
	})

	q.wg.Add(1)
	go q.run(id, req, rec)
	return id, nil
}

func (q *Queue) run(id string, req Request, rec store.Record) {
	defer q.wg.Done()
	defer q.pipeline.metrics.QueueDepth.Dec()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.mu.Lock()
	q.cancels[id] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.cancels, id)
		q.mu.Unlock()
	}()

	// Capacity gate: the record stays pending until a worker slot frees up.
	select {
	case q.sem <- struct{}{}:
		defer func() { <-q.sem }()
	case <-runCtx.Done():
		q.complete(id, rec, nil, runCtx.Err())
		return
	}

	rec.Status = store.StatusRunning
	if err := q.store.Put(runCtx, rec); err != nil {
		q.logger.Error().Err(err).Str("execution_id", id).Msg("Failed to mark execution running")
	}

	result, err := q.pipeline.Execute(runCtx, req)
	if runCtx.Err() == context.Canceled {
		err = runCtx.Err()
	}
	q.complete(id, rec, result, err)
}

func (q *Queue) complete(id string, rec store.Record, result *Result, err error) {
	rec.CompletedAt = time.Now().UTC()
	switch {
	case err == context.Canceled:
		rec.Status = store.StatusCancelled
		rec.Error = "execution cancelled"
	case err != nil:
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
	default:
		rec.Status = store.StatusFailed
		if result.Success {
			rec.Status = store.StatusSucceeded
		}
		if payload, merr := json.Marshal(result); merr == nil {
			rec.Result = payload
		} else {
			q.logger.Error().Err(merr).Str("execution_id", id).Msg("Failed to serialize execution result")
		}
	}

	storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.store.Put(storeCtx, rec); err != nil {
		q.logger.Error().Err(err).Str("execution_id", id).Msg("Failed to persist execution result")
	}

	q.pipeline.metrics.CompletedTotal.WithLabelValues(string(rec.Status)).Inc()
	q.pipeline.emit(telemetry.Event{
		Type:        telemetry.EventQueueCompleted,
		ExecutionID: id,
		Data:        map[string]interface{}{"status": string(rec.Status)},
	})
}

// GetResult returns the stored record for an execution ID. The Result field
// holds the serialized execution result once the run has finished.
func (q *Queue) GetResult(ctx context.Context, id string) (*store.Record, error) {
	return q.store.Get(ctx, id)
}

// List returns the most recent records, newest first.
func (q *Queue) List(ctx context.Context, limit int) ([]store.Record, error) {
	return q.store.List(ctx, limit)
}

// Cancel stops a pending or running execution. Returns false when the
// execution is unknown or already finished.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	cancel, ok := q.cancels[id]
	q.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all in-flight executions have finished. Test helper and
// shutdown aid; new submissions during Wait are not tracked.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close cancels in-flight executions, stops the retention sweep, and closes
// the store. The queue rejects submissions afterwards.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, cancel := range q.cancels {
		cancel()
	}
	q.mu.Unlock()

	<-q.cron.Stop().Done()
	q.wg.Wait()
	return q.store.Close()
}

// sweep prunes finished records older than the retention window.
func (q *Queue) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := q.store.DeleteOlderThan(ctx, time.Now().UTC().Add(-q.retention))
	if err != nil {
		q.logger.Error().Err(err).Msg("Queue retention sweep failed")
		return
	}
	if removed > 0 {
		q.logger.Debug().Int("removed", removed).Msg("Pruned finished executions")
	}
}
