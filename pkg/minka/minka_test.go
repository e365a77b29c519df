package minka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTaxonName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"binomial", "Chromis chromis", "chromis_chromis"},
		{"abbreviated genus", "Octopus vulgaris Cuvier", "octopus_vulgaris_cuvier"},
		{"dots removed", "C. chromis", "c_chromis"},
		{"path separators", "weird/name\\here", "weird_name_here"},
		{"reserved characters", `a:b*c?d"e<f>g|h`, "a_b_c_d_e_f_g_h"},
		{"surrounding space", "  Aplysia punctata ", "aplysia_punctata"},
		{"control characters", "bad\x01name", "bad_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTaxonName(tt.in))
		})
	}
}

func TestNormalizeTaxonNameDeterministic(t *testing.T) {
	assert.Equal(t, NormalizeTaxonName("Octopus vulgaris"), NormalizeTaxonName("Octopus vulgaris"))
}

func TestTaxaURL(t *testing.T) {
	url := TaxaURL("https://example.org/v1", "Octopus vulgaris")
	assert.Equal(t, "https://example.org/v1/taxa?q=Octopus+vulgaris", url)
}

func TestObservationsURL(t *testing.T) {
	url := ObservationsURL("https://example.org/v1/", 42, 3, 200)
	assert.Equal(t, "https://example.org/v1/observations?page=3&per_page=200&taxon_id=42", url)
}

func TestObservationsURLClampsPerPage(t *testing.T) {
	url := ObservationsURL("https://example.org/v1", 42, 1, 9999)
	assert.Contains(t, url, "per_page=200")

	url = ObservationsURL("https://example.org/v1", 42, 1, 0)
	assert.Contains(t, url, "per_page=200")
}

func TestPhotoURLCandidates(t *testing.T) {
	urls := PhotoURLCandidates("https://example.org/attachments/", 123)
	assert.Equal(t, []string{
		"https://example.org/attachments/123/original.jpeg",
		"https://example.org/attachments/123/original.jpg",
		"https://example.org/attachments/123/original.png",
	}, urls)
}

func TestImageBaseName(t *testing.T) {
	ref := PhotoRef{ObservationID: 9001, PhotoID: 77, Index: 2}
	assert.Equal(t, "9001_2", ImageBaseName(ref))

	// Deterministic for fixed (observation, index)
	assert.Equal(t, ImageBaseName(ref), ImageBaseName(ref))
}

func TestExtractPhotos(t *testing.T) {
	obs := Observation{
		ID:          10,
		LicenseCode: "cc-by",
		Photos: []Photo{
			{ID: 100},
			{ID: 101, LicenseCode: "cc0"},
		},
	}

	refs := ExtractPhotos(obs)
	assert.Len(t, refs, 2)

	assert.Equal(t, PhotoRef{ObservationID: 10, PhotoID: 100, Index: 0, LicenseCode: "cc-by"}, refs[0])
	// Photo-level license wins over the observation license
	assert.Equal(t, PhotoRef{ObservationID: 10, PhotoID: 101, Index: 1, LicenseCode: "cc0"}, refs[1])
}

func TestExtractPhotosNoPhotos(t *testing.T) {
	assert.Empty(t, ExtractPhotos(Observation{ID: 5}))
}

func TestExtractPhotosUnknownLicense(t *testing.T) {
	obs := Observation{ID: 7, Photos: []Photo{{ID: 70}}}

	refs := ExtractPhotos(obs)
	assert.Len(t, refs, 1)
	assert.Equal(t, "unknown", refs[0].LicenseCode)
}
