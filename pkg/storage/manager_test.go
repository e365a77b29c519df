package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "octopus_vulgaris")

	_, err := NewManager(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSavePhotoWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	n, err := m.SavePhoto(strings.NewReader("picture-data"), "100_0.jpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(len("picture-data")), n)

	data, err := os.ReadFile(filepath.Join(dir, "100_0.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "picture-data", string(data))

	// No temp artifact left behind
	_, err = os.Stat(filepath.Join(dir, "100_0.jpeg.tmp"))
	assert.True(t, os.IsNotExist(err))

	assert.True(t, m.IsDownloaded("100_0"))
}

// failingReader errors partway through to simulate an interrupted transfer
type failingReader struct {
	data []byte
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestSavePhotoInterruptedTransferLeavesNoFinalFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	_, err = m.SavePhoto(&failingReader{data: []byte("partial")}, "200_1.jpeg")
	require.Error(t, err)

	// Neither the final file nor the temp file may exist
	_, statErr := os.Stat(filepath.Join(dir, "200_1.jpeg"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "200_1.jpeg.tmp"))
	assert.True(t, os.IsNotExist(statErr))

	assert.False(t, m.IsDownloaded("200_1"))
}

func TestScanExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10_0.jpeg"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10_1.png"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("c"), 0644))

	m, err := NewManager(dir)
	require.NoError(t, err)

	assert.True(t, m.IsDownloaded("10_0"))
	assert.True(t, m.IsDownloaded("10_1"))
	assert.False(t, m.IsDownloaded("notes"))
	assert.False(t, m.IsDownloaded("10_2"))
	assert.Equal(t, 2, m.DownloadedCount())
}

func TestWriteFailedList(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	urls := []string{
		"https://example.org/attachments/2/original.jpeg",
		"https://example.org/attachments/1/original.jpeg",
	}
	require.NoError(t, m.WriteFailedList(urls))

	data, err := os.ReadFile(filepath.Join(dir, FailedListFile))
	require.NoError(t, err)
	assert.Equal(t,
		"https://example.org/attachments/1/original.jpeg\nhttps://example.org/attachments/2/original.jpeg\n",
		string(data))
}

func TestWriteFailedListEmptyRemovesStaleFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.WriteFailedList([]string{"https://example.org/x"}))
	require.NoError(t, m.WriteFailedList(nil))

	_, statErr := os.Stat(filepath.Join(dir, FailedListFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveMetadata(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	meta := &TaxonMetadata{
		Taxon:        "Octopus vulgaris",
		TaxonID:      42,
		Observations: 2,
		Photos: []PhotoMetadata{
			{ObservationID: 2, PhotoID: 20, Filename: "2_0.jpeg", License: "cc-by"},
			{ObservationID: 1, PhotoID: 10, Filename: "1_0.jpeg", License: "unknown"},
		},
	}
	require.NoError(t, m.SaveMetadata(meta))

	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)

	var got TaxonMetadata
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Octopus vulgaris", got.Taxon)
	assert.Equal(t, 42, got.TaxonID)
	require.Len(t, got.Photos, 2)
	// Photos are sorted by filename for stable output
	assert.Equal(t, "1_0.jpeg", got.Photos[0].Filename)
	assert.Equal(t, "2_0.jpeg", got.Photos[1].Filename)
}
