package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kitstudio/internal/blob"
)

// ExportPrefix is the object key prefix for archives built by the worker.
const ExportPrefix = "exports/"

const (
	defaultJobTTL  = time.Hour
	defaultMaxJobs = 256
)

// ErrQueueFull is returned when the job queue cannot take another export.
var ErrQueueFull = errors.New("export queue full")

// JobStatus describes the lifecycle stage of an export job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks an asynchronous kit export and the archive it produced.
type Job struct {
	ID          string     `json:"id"`
	KitID       string     `json:"kitId"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Archive     string     `json:"archive,omitempty"`
	Key         string     `json:"key,omitempty"`
	URL         string     `json:"url,omitempty"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
	Report      *Report    `json:"report,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (j *Job) copy() Job {
	out := *j
	if j.Report != nil {
		r := *j.Report
		r.Files = append([]string(nil), j.Report.Files...)
		r.Failed = append([]Failure(nil), j.Report.Failed...)
		out.Report = &r
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Worker builds kit archives in the background and stores them in blob
// storage for later download.
type Worker struct {
	exporter *Exporter
	store    blob.Store
	logger   *zap.Logger

	queue   chan string
	mu      sync.RWMutex
	jobs    map[string]*Job
	jobTTL  time.Duration
	maxJobs int
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithJobRetention bounds how long finished jobs stay visible through Get
// and how many of them are kept at most. Non-positive values keep the
// defaults.
func WithJobRetention(ttl time.Duration, max int) WorkerOption {
	return func(w *Worker) {
		if ttl > 0 {
			w.jobTTL = ttl
		}
		if max > 0 {
			w.maxJobs = max
		}
	}
}

// WithWorkerClock overrides the time source used for job timestamps.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker constructs a worker with a bounded queue.
func NewWorker(exporter *Exporter, store blob.Store, logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		exporter: exporter,
		store:    store,
		logger:   logger,
		queue:    make(chan string, 32),
		jobs:     make(map[string]*Job),
		jobTTL:   defaultJobTTL,
		maxJobs:  defaultMaxJobs,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules an export of kitID. The kit must exist.
func (w *Worker) Enqueue(ctx context.Context, kitID string) (Job, error) {
	if _, _, err := w.exporter.kits.GetKit(ctx, kitID); err != nil {
		return Job{}, err
	}
	now := w.now()
	job := &Job{ID: uuid.NewString(), KitID: kitID, Status: JobQueued, CreatedAt: now, UpdatedAt: now}

	w.mu.Lock()
	w.prune(now)
	w.jobs[job.ID] = job
	snapshot := job.copy()
	w.mu.Unlock()

	select {
	case w.queue <- job.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, job.ID)
		w.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	w.logger.Info("export queued", zap.String("job_id", job.ID), zap.String("kit_id", kitID))
	return snapshot, nil
}

// Get returns a snapshot of the job.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

func (w *Worker) process(id string) {
	kitID, ok := w.start(id)
	if !ok {
		return
	}
	var buf bytes.Buffer
	report, err := w.exporter.Export(w.ctx, kitID, &buf)
	if err != nil {
		w.fail(id, fmt.Sprintf("build archive: %v", err))
		return
	}
	key := ExportPrefix + id + "/" + report.Archive
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: "application/zip",
		Metadata:    map[string]string{"kit-id": kitID},
	})
	if err != nil {
		w.fail(id, fmt.Sprintf("store archive: %v", err))
		return
	}
	w.complete(id, report, info)
}

func (w *Worker) start(id string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.jobs[id]
	if !ok {
		return "", false
	}
	job.Status = JobRunning
	job.UpdatedAt = w.now()
	return job.KitID, true
}

func (w *Worker) complete(id string, report Report, info blob.Info) {
	now := w.now()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = JobSucceeded
		job.Error = ""
		job.Archive = report.Archive
		job.Key = info.Key
		job.URL = info.URL
		job.SizeBytes = info.Size
		job.Report = &report
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Info("export finished", zap.String("job_id", id), zap.String("key", info.Key), zap.Int("failed", len(report.Failed)))
}

func (w *Worker) fail(id, reason string) {
	now := w.now()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = JobFailed
		job.Error = reason
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Warn("export failed", zap.String("job_id", id), zap.String("reason", reason))
}

// prune drops finished jobs older than the retention window, then the oldest
// finished jobs beyond maxJobs. Queued and running jobs are never dropped.
// The caller holds w.mu.
func (w *Worker) prune(now time.Time) {
	var finished []*Job
	for id, job := range w.jobs {
		if job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) >= w.jobTTL {
			delete(w.jobs, id)
			continue
		}
		finished = append(finished, job)
	}
	if len(finished) <= w.maxJobs {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CompletedAt.Before(*finished[j].CompletedAt)
	})
	for _, job := range finished[:len(finished)-w.maxJobs] {
		delete(w.jobs, job.ID)
	}
}
