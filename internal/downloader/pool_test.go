package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	errs "minkadl/pkg/errors"
	"minkadl/pkg/logger"
)

// mockFetcher is a mock implementation of the image fetcher
type mockFetcher struct {
	data       map[string][]byte
	fetchCalls int32
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{data: make(map[string][]byte)}
}

func (m *mockFetcher) FetchImage(ctx context.Context, url string) (io.ReadCloser, error) {
	atomic.AddInt32(&m.fetchCalls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m.data[url]
	if !ok {
		return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found", Code: 404}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockFetcher) FetchCount() int {
	return int(atomic.LoadInt32(&m.fetchCalls))
}

// mockStorage is a mock implementation of the photo storage
type mockStorage struct {
	saved map[string][]byte
	mu    sync.Mutex
}

func newMockStorage() *mockStorage {
	return &mockStorage{saved: make(map[string][]byte)}
}

func (m *mockStorage) IsDownloaded(base string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.saved {
		if name == base+".jpeg" || name == base+".jpg" || name == base+".png" {
			return true
		}
	}
	return false
}

func (m *mockStorage) SavePhoto(r io.Reader, filename string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[filename] = data
	return int64(len(data)), nil
}

func (m *mockStorage) SavedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func collectResults(pool *WorkerPool) (<-chan []DownloadResult, func()) {
	done := make(chan []DownloadResult, 1)
	go func() {
		var results []DownloadResult
		for result := range pool.Results() {
			results = append(results, result)
		}
		done <- results
	}()
	return done, func() { pool.Stop() }
}

func TestWorkerPoolDownloadsAllJobs(t *testing.T) {
	fetcher := newMockFetcher()
	store := newMockStorage()

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		fetcher.data[fmt.Sprintf("https://example.org/%d/original.jpeg", i)] = []byte("photo")
	}

	pool := NewWorkerPool(context.Background(), 3, fetcher, store, logger.NewNopLogger())
	pool.Start()
	done, stop := collectResults(pool)

	for i := 0; i < numJobs; i++ {
		job := DownloadJob{
			Candidates: []string{fmt.Sprintf("https://example.org/%d/original.jpeg", i)},
			BaseName:   fmt.Sprintf("%d_0", i),
			PhotoID:    i,
		}
		if err := pool.Submit(job); err != nil {
			t.Fatalf("failed to submit job %d: %v", i, err)
		}
	}

	stop()
	results := <-done

	if len(results) != numJobs {
		t.Fatalf("expected %d results, got %d", numJobs, len(results))
	}
	for _, result := range results {
		if result.Status != StatusDownloaded {
			t.Errorf("expected downloaded, got %s (err: %v)", result.Status, result.Error)
		}
		if result.Size != int64(len("photo")) {
			t.Errorf("expected size %d, got %d", len("photo"), result.Size)
		}
	}
	if store.SavedCount() != numJobs {
		t.Errorf("expected %d saved photos, got %d", numJobs, store.SavedCount())
	}
}

func TestWorkerPoolFallsBackToNextFormat(t *testing.T) {
	fetcher := newMockFetcher()
	store := newMockStorage()

	// Only the .jpg variant exists
	fetcher.data["https://example.org/7/original.jpg"] = []byte("jpg-photo")

	pool := NewWorkerPool(context.Background(), 1, fetcher, store, logger.NewNopLogger())
	pool.Start()
	done, stop := collectResults(pool)

	job := DownloadJob{
		Candidates: []string{
			"https://example.org/7/original.jpeg",
			"https://example.org/7/original.jpg",
			"https://example.org/7/original.png",
		},
		BaseName: "7_0",
		PhotoID:  7,
	}
	if err := pool.Submit(job); err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	stop()
	results := <-done

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != StatusDownloaded {
		t.Fatalf("expected downloaded, got %s (err: %v)", results[0].Status, results[0].Error)
	}
	if results[0].Filename != "7_0.jpg" {
		t.Errorf("expected filename 7_0.jpg, got %s", results[0].Filename)
	}
	// jpeg attempt plus jpg attempt, no png attempt
	if fetcher.FetchCount() != 2 {
		t.Errorf("expected 2 fetch calls, got %d", fetcher.FetchCount())
	}
}

func TestWorkerPoolSkipsExistingFiles(t *testing.T) {
	fetcher := newMockFetcher()
	store := newMockStorage()
	store.saved["3_0.jpeg"] = []byte("already here")

	pool := NewWorkerPool(context.Background(), 2, fetcher, store, logger.NewNopLogger())
	pool.Start()
	done, stop := collectResults(pool)

	job := DownloadJob{
		Candidates: []string{"https://example.org/3/original.jpeg"},
		BaseName:   "3_0",
		PhotoID:    3,
	}
	if err := pool.Submit(job); err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	stop()
	results := <-done

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != StatusSkipped {
		t.Errorf("expected skipped, got %s", results[0].Status)
	}
	// Skipping must not touch the network
	if fetcher.FetchCount() != 0 {
		t.Errorf("expected 0 fetch calls, got %d", fetcher.FetchCount())
	}
}

func TestWorkerPoolReportsFailures(t *testing.T) {
	fetcher := newMockFetcher() // no data: every fetch is a 404
	store := newMockStorage()

	pool := NewWorkerPool(context.Background(), 2, fetcher, store, logger.NewNopLogger())
	pool.Start()
	done, stop := collectResults(pool)

	job := DownloadJob{
		Candidates: []string{
			"https://example.org/9/original.jpeg",
			"https://example.org/9/original.jpg",
			"https://example.org/9/original.png",
		},
		BaseName: "9_0",
		PhotoID:  9,
	}
	if err := pool.Submit(job); err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}

	stop()
	results := <-done

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != StatusFailed {
		t.Errorf("expected failed, got %s", results[0].Status)
	}
	if results[0].Error == nil {
		t.Error("expected error in failed result")
	}
	if store.SavedCount() != 0 {
		t.Errorf("expected 0 saved photos, got %d", store.SavedCount())
	}
}

func TestWorkerPoolDrainsOnCancellation(t *testing.T) {
	fetcher := newMockFetcher()
	store := newMockStorage()

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(ctx, 2, fetcher, store, logger.NewNopLogger())
	pool.Start()
	done, stop := collectResults(pool)

	for i := 0; i < 5; i++ {
		job := DownloadJob{
			Candidates: []string{fmt.Sprintf("https://example.org/%d/original.jpeg", i)},
			BaseName:   fmt.Sprintf("%d_0", i),
			PhotoID:    i,
		}
		if err := pool.Submit(job); err != nil {
			break
		}
	}

	cancel()

	// Submitting after cancellation is rejected
	err := pool.Submit(DownloadJob{BaseName: "late"})
	if err == nil {
		t.Error("expected submit after cancellation to fail")
	}

	stop()
	<-done
}
