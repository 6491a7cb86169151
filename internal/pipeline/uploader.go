// Package pipeline runs the kit-assembly stages that call out to storage and
// the generative model: batch upload with classification, and creative
// renaming inside kits.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kitstudio/internal/ai"
	"kitstudio/internal/blob"
	"kitstudio/internal/classify"
	"kitstudio/internal/ingest"
	"kitstudio/internal/metrics"
	"kitstudio/pkg/domain"
)

// ErrRateLimited is returned when a stage hit HTTP 429 and the batch was cut short.
var ErrRateLimited = ai.ErrRateLimited

// Library appends classified sounds.
type Library interface {
	AddSound(ctx context.Context, sound domain.Sound) (domain.Sound, domain.Result, error)
}

// Failure describes one file that could not be processed.
type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Report summarizes a batch run.
type Report struct {
	Uploaded []domain.Sound   `json:"uploaded"`
	Failed   []Failure        `json:"failed"`
	Skipped  []ingest.Skipped `json:"skipped"`
	Aborted  bool             `json:"aborted"`
}

// Uploader stores, classifies and records audio files one at a time.
type Uploader struct {
	store      blob.Store
	classifier classify.Classifier
	library    Library
	limiter    *rate.Limiter
	origin     blob.Origin
	expander   ingest.Expander
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithOrigin sets the public origin used to build storage URLs.
func WithOrigin(origin blob.Origin) UploaderOption {
	return func(u *Uploader) { u.origin = origin }
}

// WithExpander overrides archive limits.
func WithExpander(e ingest.Expander) UploaderOption {
	return func(u *Uploader) { u.expander = e }
}

// WithUploaderLogger sets the logger.
func WithUploaderLogger(logger *zap.Logger) UploaderOption {
	return func(u *Uploader) { u.logger = logger }
}

// WithUploaderMetrics sets the metrics sink.
func WithUploaderMetrics(m *metrics.Metrics) UploaderOption {
	return func(u *Uploader) { u.metrics = m }
}

// NewUploader wires the stages. A nil limiter means no throttling.
func NewUploader(store blob.Store, classifier classify.Classifier, library Library, limiter *rate.Limiter, opts ...UploaderOption) *Uploader {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	u := &Uploader{store: store, classifier: classifier, library: library, limiter: limiter, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run expands files and processes every audio file in order. Per-file
// failures are recorded and the loop continues; a rate-limit response ends
// the batch early, reports the rest as skipped and returns ErrRateLimited.
// Every sound added before the abort stays in the library.
func (u *Uploader) Run(ctx context.Context, files []ingest.File) (Report, error) {
	expanded := u.expander.Expand(files)
	report := Report{Uploaded: []domain.Sound{}, Failed: []Failure{}, Skipped: expanded.Skipped}
	if report.Skipped == nil {
		report.Skipped = []ingest.Skipped{}
	}
	for _, s := range expanded.Skipped {
		u.logger.Debug("skipped input", zap.String("name", s.Name), zap.String("reason", s.Reason))
		u.metrics.PipelineFile("skipped")
	}

	for i, file := range expanded.Audio {
		if err := u.limiter.Wait(ctx); err != nil {
			report.Skipped = append(report.Skipped, remaining(expanded.Audio[i:], "cancelled")...)
			return report, err
		}
		sound, err := u.processFile(ctx, file)
		if err == nil {
			report.Uploaded = append(report.Uploaded, sound)
			u.metrics.PipelineFile("uploaded")
			continue
		}
		report.Failed = append(report.Failed, Failure{Name: file.Name, Error: err.Error()})
		u.metrics.PipelineFile("failed")
		if ai.IsRateLimited(err) {
			report.Aborted = true
			report.Skipped = append(report.Skipped, remaining(expanded.Audio[i+1:], "batch aborted after rate limit")...)
			u.metrics.PipelineAbort()
			u.logger.Warn("batch aborted on rate limit", zap.String("name", file.Name), zap.Int("remaining", len(expanded.Audio)-i-1))
			return report, fmt.Errorf("upload batch: %w", ErrRateLimited)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			report.Skipped = append(report.Skipped, remaining(expanded.Audio[i+1:], "cancelled")...)
			return report, err
		}
		u.logger.Warn("file failed", zap.String("name", file.Name), zap.Error(err))
	}
	u.logger.Info("batch complete", zap.Int("uploaded", len(report.Uploaded)), zap.Int("failed", len(report.Failed)), zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

func (u *Uploader) processFile(ctx context.Context, file ingest.AudioFile) (domain.Sound, error) {
	key := blob.SoundKey(file.Name)
	info, err := u.store.Put(ctx, key, bytes.NewReader(file.Data), blob.PutOptions{
		ContentType: file.ContentType,
		Metadata:    map[string]string{"original-name": file.Name},
	})
	if err != nil {
		return domain.Sound{}, fmt.Errorf("upload: %w", err)
	}
	class, err := u.classifier.Classify(ctx, file.Name)
	if err != nil {
		u.discard(key)
		return domain.Sound{}, fmt.Errorf("classify: %w", err)
	}
	url := info.URL
	if !u.origin.IsZero() {
		url = u.origin.URL(key)
	}
	sound, _, err := u.library.AddSound(ctx, domain.Sound{
		OriginalName: file.Name,
		StorageURL:   url,
		StorageKey:   key,
		SoundType:    class.SoundType,
		Key:          class.Key,
	})
	if err != nil {
		u.discard(key)
		return domain.Sound{}, fmt.Errorf("add to library: %w", err)
	}
	return sound, nil
}

// discard removes an object whose library entry was never written.
func (u *Uploader) discard(key string) {
	if _, err := u.store.Delete(context.Background(), key); err != nil {
		u.logger.Warn("discard orphaned object", zap.String("key", key), zap.Error(err))
	}
}

func remaining(files []ingest.AudioFile, reason string) []ingest.Skipped {
	out := make([]ingest.Skipped, 0, len(files))
	for _, f := range files {
		out = append(out, ingest.Skipped{Name: f.Name, Reason: reason})
	}
	return out
}
