// Package scraper orchestrates the per-taxon download pipeline.
package scraper

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"minkadl/internal/downloader"
	"minkadl/pkg/config"
	"minkadl/pkg/logger"
	"minkadl/pkg/minka"
	"minkadl/pkg/ratelimit"
	"minkadl/pkg/storage"
)

// TaxonState is the processing state of one taxon
type TaxonState string

const (
	StatePending     TaxonState = "pending"
	StateQuerying    TaxonState = "querying"
	StateDownloading TaxonState = "downloading"
	StateDone        TaxonState = "done"
	StateFailed      TaxonState = "failed"
)

// TaxonReport holds the outcome for one taxon
type TaxonReport struct {
	Taxon        string
	Dir          string
	State        TaxonState
	TaxonID      int
	Observations int
	Downloaded   int
	Skipped      int
	Failed       int
	Bytes        int64
	Duration     time.Duration
	Err          error
}

// Summary aggregates the whole batch
type Summary struct {
	Reports    []TaxonReport
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// AnyTaxonFailed reports whether any taxon ended in the failed state.
// Individual photo failures do not fail a taxon; query and filesystem
// errors do.
func (s *Summary) AnyTaxonFailed() bool {
	for _, r := range s.Reports {
		if r.State == StateFailed {
			return true
		}
	}
	return false
}

// Scraper drives the download pipeline for a list of taxa
type Scraper struct {
	client  *minka.Client
	limiter ratelimit.Limiter
	config  *config.Config
	logger  logger.Logger
}

// New creates a new Scraper instance
func New(cfg *config.Config, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}

	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute)

	return &Scraper{
		client:  minka.NewClient(cfg, limiter, log),
		limiter: limiter,
		config:  cfg,
		logger:  log,
	}
}

// Run processes each taxon in order and returns the aggregate summary.
// A failing taxon does not stop the batch; a cancelled context does.
// The returned error is non-nil only when the run was aborted early.
func (s *Scraper) Run(ctx context.Context, taxa []string, outputDir string) (*Summary, error) {
	summary := &Summary{}

	for _, taxon := range taxa {
		if ctx.Err() != nil {
			s.logger.Warn("run cancelled, stopping batch")
			return summary, ctx.Err()
		}

		report := s.processTaxon(ctx, taxon, outputDir)
		summary.Reports = append(summary.Reports, report)
		summary.Downloaded += report.Downloaded
		summary.Skipped += report.Skipped
		summary.Failed += report.Failed
		summary.Bytes += report.Bytes

		s.logTaxonSummary(report)
	}

	s.logger.InfoWithFields("batch finished", map[string]interface{}{
		"taxa":       len(summary.Reports),
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
		"total_size": humanize.Bytes(uint64(summary.Bytes)),
	})

	return summary, nil
}

// processTaxon runs the per-taxon state machine:
// pending -> querying -> downloading -> done, or -> failed.
func (s *Scraper) processTaxon(ctx context.Context, taxon, outputDir string) TaxonReport {
	start := time.Now()
	report := TaxonReport{
		Taxon: taxon,
		State: StatePending,
		Dir:   filepath.Join(outputDir, minka.NormalizeTaxonName(taxon)),
	}

	s.logger.InfoWithFields("processing taxon", map[string]interface{}{
		"taxon": taxon,
		"dir":   report.Dir,
	})

	// A taxon whose directory cannot be created can never store a
	// picture, so this counts as a taxon-level failure.
	store, err := storage.NewManager(report.Dir)
	if err != nil {
		report.State = StateFailed
		report.Err = err
		report.Duration = time.Since(start)
		return report
	}

	report.State = StateQuerying

	taxonRec, err := s.client.ResolveTaxon(ctx, taxon)
	if err != nil {
		report.State = StateFailed
		report.Err = err
		report.Duration = time.Since(start)
		return report
	}
	report.TaxonID = taxonRec.ID

	report.State = StateDownloading

	pool := downloader.NewWorkerPool(ctx, s.config.Download.ConcurrentDownloads, s.client, store, s.logger)
	pool.Start()

	meta := &storage.TaxonMetadata{
		Taxon:   taxon,
		TaxonID: taxonRec.ID,
	}
	var failedURLs []string

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			switch result.Status {
			case downloader.StatusDownloaded:
				report.Downloaded++
				report.Bytes += result.Size
				meta.Photos = append(meta.Photos, storage.PhotoMetadata{
					ObservationID: result.Job.ObservationID,
					PhotoID:       result.Job.PhotoID,
					Filename:      result.Filename,
					License:       result.Job.License,
				})
			case downloader.StatusSkipped:
				report.Skipped++
			case downloader.StatusFailed:
				report.Failed++
				if len(result.Job.Candidates) > 0 {
					failedURLs = append(failedURLs, result.Job.Candidates[0])
				}
				s.logger.WarnWithFields("photo download failed", map[string]interface{}{
					"taxon":          taxon,
					"observation_id": result.Job.ObservationID,
					"photo_id":       result.Job.PhotoID,
					"error":          result.Error.Error(),
				})
			}
		}
	}()

	// Seen photo IDs; the API occasionally attaches the same picture to
	// several observations.
	seen := make(map[int]bool)

	count, queryErr := s.client.Observations(ctx, taxonRec.ID, func(obs minka.Observation) error {
		for _, ref := range minka.ExtractPhotos(obs) {
			if seen[ref.PhotoID] {
				continue
			}
			seen[ref.PhotoID] = true

			job := downloader.DownloadJob{
				Candidates:    minka.PhotoURLCandidates(s.client.AttachmentsURL(), ref.PhotoID),
				BaseName:      minka.ImageBaseName(ref),
				Taxon:         taxon,
				ObservationID: ref.ObservationID,
				PhotoID:       ref.PhotoID,
				License:       ref.LicenseCode,
			}
			if err := pool.Submit(job); err != nil {
				return err
			}
		}
		return nil
	})
	report.Observations = count

	pool.Stop()
	wg.Wait()

	if s.config.Download.WriteFailedList {
		if err := store.WriteFailedList(failedURLs); err != nil {
			s.logger.WithError(err).WithField("taxon", taxon).Warn("failed to write failed list")
		}
	}

	if queryErr != nil {
		// Files downloaded before the query broke stay on disk; the
		// taxon itself is marked failed so the exit code reflects it.
		report.State = StateFailed
		report.Err = fmt.Errorf("observation query failed: %w", queryErr)
		report.Duration = time.Since(start)
		return report
	}

	meta.Observations = count
	if s.config.Download.WriteMetadata {
		if err := store.SaveMetadata(meta); err != nil {
			s.logger.WithError(err).WithField("taxon", taxon).Warn("failed to write metadata")
		}
	}

	report.State = StateDone
	report.Duration = time.Since(start)
	return report
}

// logTaxonSummary emits the per-taxon counts
func (s *Scraper) logTaxonSummary(report TaxonReport) {
	fields := map[string]interface{}{
		"taxon":        report.Taxon,
		"state":        string(report.State),
		"observations": report.Observations,
		"downloaded":   report.Downloaded,
		"skipped":      report.Skipped,
		"failed":       report.Failed,
		"size":         humanize.Bytes(uint64(report.Bytes)),
		"duration":     report.Duration,
	}

	if report.State == StateFailed {
		fields["error"] = report.Err.Error()
		s.logger.ErrorWithFields("taxon failed", fields)
		return
	}
	s.logger.InfoWithFields("taxon done", fields)
}
