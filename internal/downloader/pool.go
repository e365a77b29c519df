// Package downloader runs bounded-concurrency picture downloads.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	errs "minkadl/pkg/errors"
	"minkadl/pkg/logger"
)

// Status is the outcome of one download job
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// DownloadJob represents a single picture to fetch. Candidates holds the
// attachment URLs to try in order; the first one that succeeds wins.
type DownloadJob struct {
	Candidates    []string
	BaseName      string
	Taxon         string
	ObservationID int
	PhotoID       int
	License       string
}

// DownloadResult represents the result of a download job
type DownloadResult struct {
	Job      DownloadJob
	Status   Status
	Filename string
	Error    error
	Size     int64
	Duration time.Duration
}

// ImageFetcher fetches an image URL and returns the body stream
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) (io.ReadCloser, error)
}

// PhotoStorage persists pictures
type PhotoStorage interface {
	IsDownloaded(base string) bool
	SavePhoto(r io.Reader, filename string) (int64, error)
}

// WorkerPool manages concurrent download workers for one taxon
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	ctx         context.Context
	fetcher     ImageFetcher
	store       PhotoStorage
	logger      logger.Logger
}

// NewWorkerPool creates a new download worker pool. The pool stops
// issuing new requests as soon as ctx is cancelled; jobs already in the
// queue are drained as Failed results so callers see a complete tally.
func NewWorkerPool(ctx context.Context, numWorkers int, fetcher ImageFetcher, store PhotoStorage, log logger.Logger) *WorkerPool {
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		ctx:         ctx,
		fetcher:     fetcher,
		store:       store,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop signals that no more jobs will be submitted, waits for the
// workers to drain the queue and closes the result channel.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
}

// Submit adds a new download job to the queue. Must not be called after
// Stop.
func (wp *WorkerPool) Submit(job DownloadJob) error {
	if err := wp.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		var result DownloadResult
		if wp.ctx.Err() != nil {
			result = DownloadResult{Job: job, Status: StatusFailed, Error: wp.ctx.Err()}
		} else {
			result = wp.processJob(job, id)
		}

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			// Result consumer is gone; keep draining the queue so Stop
			// does not block.
		}
	}
}

// processJob handles a single download job
func (wp *WorkerPool) processJob(job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{
		Job:    job,
		Status: StatusFailed,
	}

	// Existing file: no network call at all
	if wp.store.IsDownloaded(job.BaseName) {
		wp.logger.DebugWithFields("photo already downloaded", map[string]interface{}{
			"worker_id": workerID,
			"base":      job.BaseName,
		})
		result.Status = StatusSkipped
		result.Duration = time.Since(start)
		return result
	}

	var lastErr error
	for _, url := range job.Candidates {
		if wp.ctx.Err() != nil {
			lastErr = wp.ctx.Err()
			break
		}

		body, err := wp.fetcher.FetchImage(wp.ctx, url)
		if err != nil {
			lastErr = err
			var apiErr *errs.Error
			if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeNotFound {
				// Picture stored under a different format, try the next one
				continue
			}
			continue
		}

		filename := job.BaseName + path.Ext(url)
		size, err := wp.store.SavePhoto(body, filename)
		body.Close()
		if err != nil {
			lastErr = fmt.Errorf("save failed: %w", err)
			break
		}

		result.Status = StatusDownloaded
		result.Filename = filename
		result.Size = size
		result.Duration = time.Since(start)

		wp.logger.DebugWithFields("worker completed job", map[string]interface{}{
			"worker_id": workerID,
			"filename":  filename,
			"size":      size,
			"duration":  result.Duration,
		})
		return result
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate URLs for photo %d", job.PhotoID)
	}
	result.Error = lastErr
	result.Duration = time.Since(start)

	wp.logger.WarnWithFields("worker failed to download photo", map[string]interface{}{
		"worker_id":      workerID,
		"base":           job.BaseName,
		"observation_id": job.ObservationID,
		"photo_id":       job.PhotoID,
		"error":          lastErr.Error(),
	})

	return result
}

// QueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}
