// Package storage persists downloaded pictures for one taxon folder.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// imageExts are the file extensions recognized as downloaded pictures
var imageExts = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// FailedListFile is the per-taxon file listing URLs that could not be
// downloaded.
const FailedListFile = "failed.txt"

// MetadataFile is the per-taxon JSON file with photo metadata.
const MetadataFile = "metadata.json"

// Manager handles file storage for a single taxon directory and keeps
// track of which pictures are already on disk so re-runs skip them
// without any network traffic.
type Manager struct {
	dir        string
	downloaded map[string]bool // extension-less base name -> present
	mu         sync.RWMutex
}

// NewManager creates the taxon directory if needed and scans it for
// already downloaded pictures.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	m := &Manager{
		dir:        dir,
		downloaded: make(map[string]bool),
	}

	if err := m.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return m, nil
}

// scanExistingFiles records the base names of image files already present
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if imageExts[strings.ToLower(ext)] {
			base := strings.TrimSuffix(entry.Name(), ext)
			m.downloaded[base] = true
		}
	}

	return nil
}

// Dir returns the taxon directory path
func (m *Manager) Dir() string {
	return m.dir
}

// IsDownloaded reports whether a picture with the given extension-less
// base name already exists in any recognized image format.
func (m *Manager) IsDownloaded(base string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downloaded[base]
}

// SavePhoto streams a picture to <dir>/<filename>. The data is written
// to a temporary file and renamed into place, so a partially written
// picture is never visible at the final path. Returns the number of
// bytes written.
func (m *Manager) SavePhoto(r io.Reader, filename string) (int64, error) {
	final := filepath.Join(m.dir, filename)
	tmp := final + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	n, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to save photo data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	ext := filepath.Ext(filename)
	m.mu.Lock()
	m.downloaded[strings.TrimSuffix(filename, ext)] = true
	m.mu.Unlock()

	return n, nil
}

// DownloadedCount returns the number of pictures present in the directory
func (m *Manager) DownloadedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.downloaded)
}

// WriteFailedList writes the URLs that could not be downloaded to
// failed.txt, one per line. An empty list removes a stale file from a
// previous run.
func (m *Manager) WriteFailedList(urls []string) error {
	path := filepath.Join(m.dir, FailedListFile)

	if len(urls) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale failed list: %w", err)
		}
		return nil
	}

	sorted := make([]string, len(urls))
	copy(sorted, urls)
	sort.Strings(sorted)

	data := strings.Join(sorted, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write failed list: %w", err)
	}
	return nil
}

// PhotoMetadata describes one downloaded picture
type PhotoMetadata struct {
	ObservationID int    `json:"observation_id"`
	PhotoID       int    `json:"photo_id"`
	Filename      string `json:"filename"`
	License       string `json:"license"`
}

// TaxonMetadata is the per-taxon metadata document
type TaxonMetadata struct {
	Taxon        string          `json:"taxon"`
	TaxonID      int             `json:"taxon_id"`
	Observations int             `json:"observations"`
	Photos       []PhotoMetadata `json:"photos"`
}

// SaveMetadata writes the taxon metadata document as JSON, using the same
// temporary-then-rename pattern as picture writes.
func (m *Manager) SaveMetadata(meta *TaxonMetadata) error {
	sort.Slice(meta.Photos, func(i, j int) bool {
		return meta.Photos[i].Filename < meta.Photos[j].Filename
	})

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	final := filepath.Join(m.dir, MetadataFile)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename metadata: %w", err)
	}
	return nil
}
