package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/lock"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/repository"
	"github.com/prn-tf/alexander-cms/internal/storage"
)

// GarbageCollector removes attachment payloads no post points at. A payload
// ends up unreferenced when its post is deleted or when the transaction that
// would have created the post rolled back after the bytes were written.
//
// Each payload is collected under lock.Keys.Blob, the same key PostService
// registers new payloads under, so a file is never removed while an upload
// of identical bytes is claiming it.
type GarbageCollector struct {
	blobRepo repository.BlobRepository
	storage  storage.Backend
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   GCConfig

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// GCConfig tunes the collector.
type GCConfig struct {
	// Enabled starts the periodic loop with the server.
	Enabled bool

	Interval time.Duration

	// GracePeriod is how long an unreferenced payload survives. It covers
	// the gap between writing the bytes and committing the post.
	GracePeriod time.Duration

	// BatchSize caps the payloads examined per run.
	BatchSize int

	// DryRun reports candidates and deletes nothing.
	DryRun bool
}

// DefaultGCConfig runs hourly with a one day grace period.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		Enabled:     true,
		Interval:    time.Hour,
		GracePeriod: 24 * time.Hour,
		BatchSize:   1000,
	}
}

// NewGarbageCollector creates a collector; call Start for periodic runs.
func NewGarbageCollector(
	blobRepo repository.BlobRepository,
	storage storage.Backend,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config GCConfig,
) *GarbageCollector {
	return &GarbageCollector{
		blobRepo: blobRepo,
		storage:  storage,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "gc").Logger(),
		config:   config,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs a collection immediately and then every Interval until Stop.
func (gc *GarbageCollector) Start() {
	gc.mu.Lock()
	if gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = true
	gc.mu.Unlock()

	gc.logger.Info().
		Dur("interval", gc.config.Interval).
		Dur("grace_period", gc.config.GracePeriod).
		Int("batch_size", gc.config.BatchSize).
		Bool("dry_run", gc.config.DryRun).
		Msg("payload collector started")

	go gc.loop()
}

// Stop waits for an in-progress run to finish.
func (gc *GarbageCollector) Stop() {
	gc.mu.Lock()
	if !gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = false
	gc.mu.Unlock()

	close(gc.stop)
	<-gc.done

	gc.logger.Info().Msg("payload collector stopped")
}

func (gc *GarbageCollector) loop() {
	defer close(gc.done)

	gc.RunOnce(context.Background())

	ticker := time.NewTicker(gc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gc.RunOnce(context.Background())
		case <-gc.stop:
			return
		}
	}
}

// GCResult summarizes one run.
type GCResult struct {
	BlobsDeleted int
	BytesFreed   int64

	// Skipped counts payloads that were claimed again during the run.
	Skipped int

	Errors   int
	Duration time.Duration

	// OrphanBlobsRemaining is nonzero when the batch was full and more
	// candidates wait for the next run.
	OrphanBlobsRemaining int
}

// outcome of collecting one payload.
type outcome int

const (
	collected outcome = iota
	reclaimed
	failed
)

// RunOnce performs a single collection. Only one process collects at a
// time; the others return an empty result.
func (gc *GarbageCollector) RunOnce(ctx context.Context) GCResult {
	start := time.Now()
	var result GCResult
	finish := func() GCResult {
		result.Duration = time.Since(start)
		return result
	}

	runKey := lock.Keys.BlobGC()
	ttl := max(gc.config.Interval/2, 5*time.Minute)

	acquired, err := gc.locker.Acquire(ctx, runKey, ttl)
	if err != nil {
		gc.logger.Error().Err(err).Msg("could not take collector lock")
		result.Errors++
		return finish()
	}
	if !acquired {
		gc.logger.Debug().Msg("another process is collecting")
		return finish()
	}
	defer func() {
		if _, err := gc.locker.Release(context.WithoutCancel(ctx), runKey); err != nil {
			gc.logger.Error().Err(err).Msg("could not release collector lock")
		}
	}()

	orphans, err := gc.blobRepo.ListOrphans(ctx, gc.config.GracePeriod, gc.config.BatchSize)
	if err != nil {
		gc.logger.Error().Err(err).Msg("could not list unreferenced payloads")
		result.Errors++
		return finish()
	}
	if gc.metrics != nil {
		gc.metrics.GCOrphanBlobs.Set(float64(len(orphans)))
	}

	for _, blob := range orphans {
		if gc.config.DryRun {
			gc.logger.Info().
				Str("content_hash", blob.ContentHash).
				Int64("size", blob.Size).
				Msg("dry run: would collect payload")
			result.BlobsDeleted++
			result.BytesFreed += blob.Size
			continue
		}

		switch gc.collect(ctx, blob.ContentHash) {
		case collected:
			result.BlobsDeleted++
			result.BytesFreed += blob.Size
		case reclaimed:
			result.Skipped++
		case failed:
			result.Errors++
		}
	}

	if gc.config.BatchSize > 0 && len(orphans) == gc.config.BatchSize {
		more, _ := gc.blobRepo.ListOrphans(ctx, gc.config.GracePeriod, 1)
		result.OrphanBlobsRemaining = len(more)
	}

	finish()
	if gc.metrics != nil {
		gc.metrics.RecordGCRun(result.Duration.Seconds(), result.BlobsDeleted, result.BytesFreed)
		gc.metrics.GCLastRunTime.SetToCurrentTime()
		if !gc.config.DryRun && result.OrphanBlobsRemaining == 0 {
			gc.metrics.GCOrphanBlobs.Set(float64(result.Errors))
		}
	}

	gc.logger.Info().
		Int("blobs_deleted", result.BlobsDeleted).
		Int64("bytes_freed", result.BytesFreed).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Int("remaining", result.OrphanBlobsRemaining).
		Dur("duration", result.Duration).
		Msg("payload collection finished")

	return result
}

// collect removes one payload's row and file while holding its lock. The row
// is re-read first: an upload of the same bytes re-registers it, which
// restarts the grace period and leaves the payload alone.
func (gc *GarbageCollector) collect(ctx context.Context, hash string) outcome {
	log := gc.logger.With().Str("content_hash", hash).Logger()

	res := failed
	err := lock.Do(ctx, gc.locker, lock.Keys.Blob(hash), payloadLockTTL, func(ctx context.Context) error {
		blob, err := gc.blobRepo.GetByHash(ctx, hash)
		if errors.Is(err, domain.ErrBlobNotFound) {
			res = reclaimed
			return nil
		}
		if err != nil {
			return err
		}
		if !blob.CanGarbageCollect(gc.config.GracePeriod) {
			res = reclaimed
			return nil
		}

		// Delete only matches while ref_count is zero, so a post that
		// committed since the re-read keeps its payload.
		if err := gc.blobRepo.Delete(ctx, hash); err != nil {
			if errors.Is(err, domain.ErrBlobNotFound) {
				res = reclaimed
				return nil
			}
			return fmt.Errorf("delete row: %w", err)
		}
		if err := gc.storage.Delete(ctx, hash); err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("delete file: %w", err)
		}
		res = collected
		return nil
	})

	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		log.Debug().Msg("payload busy, left for the next run")
		return reclaimed
	case err != nil:
		log.Error().Err(err).Msg("could not collect payload")
		return failed
	case res == reclaimed:
		log.Debug().Msg("payload claimed again, kept")
	default:
		log.Debug().Msg("payload collected")
	}
	return res
}

// GetStats reports the payloads the next run would consider.
func (gc *GarbageCollector) GetStats(ctx context.Context) (*GCStats, error) {
	orphans, err := gc.blobRepo.ListOrphans(ctx, gc.config.GracePeriod, gc.config.BatchSize+1)
	if err != nil {
		return nil, err
	}

	stats := &GCStats{
		HasMoreOrphans: len(orphans) > gc.config.BatchSize,
		GracePeriod:    gc.config.GracePeriod,
		NextRunIn:      gc.config.Interval,
	}
	if stats.HasMoreOrphans {
		orphans = orphans[:gc.config.BatchSize]
	}
	stats.OrphanBlobCount = len(orphans)
	for _, blob := range orphans {
		stats.OrphanBlobSize += blob.Size
	}
	return stats, nil
}

// GCStats describes pending collection work.
type GCStats struct {
	OrphanBlobCount int
	OrphanBlobSize  int64
	HasMoreOrphans  bool
	GracePeriod     time.Duration
	NextRunIn       time.Duration
}
