package minka

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the base URL of the MINKA API
	DefaultBaseURL = "https://minka-sdg.org:4000/v1"

	// DefaultAttachmentsURL is where original photo files are served from
	DefaultAttachmentsURL = "https://minka-sdg.org/attachments/local_photos/files"

	// MaxPerPage is the highest page size the API supports
	MaxPerPage = 200
)

// ImageFormats are the attachment formats tried when downloading a
// photo, in order of preference.
var ImageFormats = []string{"jpeg", "jpg", "png"}

// TaxaURL constructs the URL for searching taxa by name
func TaxaURL(baseURL, query string) string {
	params := url.Values{}
	params.Set("q", query)
	return fmt.Sprintf("%s/taxa?%s", strings.TrimRight(baseURL, "/"), params.Encode())
}

// ObservationsURL constructs the URL for one page of observation search results
func ObservationsURL(baseURL string, taxonID, page, perPage int) string {
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	params := url.Values{}
	params.Set("taxon_id", strconv.Itoa(taxonID))
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))
	return fmt.Sprintf("%s/observations?%s", strings.TrimRight(baseURL, "/"), params.Encode())
}

// PhotoURLCandidates returns the attachment URLs to try for a photo, one
// per known image format. The API does not report which format a
// picture was stored in, so callers try them in order.
func PhotoURLCandidates(attachmentsURL string, photoID int) []string {
	base := strings.TrimRight(attachmentsURL, "/")
	urls := make([]string, 0, len(ImageFormats))
	for _, format := range ImageFormats {
		urls = append(urls, fmt.Sprintf("%s/%d/original.%s", base, photoID, format))
	}
	return urls
}

// ImageBaseName returns the extension-less local filename for a photo:
// <observation-id>_<photo-index>. Deterministic, so re-runs map a photo
// to the same file.
func ImageBaseName(ref PhotoRef) string {
	return fmt.Sprintf("%d_%d", ref.ObservationID, ref.Index)
}

// NormalizeTaxonName converts a taxon name into a filesystem-safe folder
// name: lowercased, spaces become underscores, dots are dropped, and
// characters that are unsafe on common filesystems are replaced with
// underscores.
func NormalizeTaxonName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ".", "")

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
