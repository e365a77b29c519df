// Package minka is a client for the MINKA biodiversity platform API,
// an iNaturalist fork exposing taxa and observation search endpoints.
package minka

// TaxaResponse is returned by GET /v1/taxa
type TaxaResponse struct {
	Page         int     `json:"page,omitempty"`
	PerPage      int     `json:"per_page,omitempty"`
	TotalResults int     `json:"total_results,omitempty"`
	Results      []Taxon `json:"results,omitempty"`
}

// Taxon is a single taxonomic record
type Taxon struct {
	ID                  int    `json:"id,omitempty"`
	Name                string `json:"name,omitempty"`
	Rank                string `json:"rank,omitempty"`
	PreferredCommonName string `json:"preferred_common_name,omitempty"`
}

// ObservationsResponse is returned by GET /v1/observations
type ObservationsResponse struct {
	Page         int           `json:"page,omitempty"`
	PerPage      int           `json:"per_page,omitempty"`
	TotalResults int           `json:"total_results,omitempty"`
	Results      []Observation `json:"results,omitempty"`
}

// Observation is one user-submitted sighting
type Observation struct {
	ID           int     `json:"id,omitempty"`
	LicenseCode  string  `json:"license_code,omitempty"`
	QualityGrade string  `json:"quality_grade,omitempty"`
	Taxon        Taxon   `json:"taxon,omitempty"`
	Photos       []Photo `json:"photos,omitempty"`
}

// Photo is one picture attached to an observation
type Photo struct {
	ID          int    `json:"id,omitempty"`
	URL         string `json:"url,omitempty"`
	LicenseCode string `json:"license_code,omitempty"`
	Attribution string `json:"attribution,omitempty"`
}

// PhotoRef identifies one downloadable picture extracted from an observation.
// The (observation, index) pair determines the local filename; PhotoID
// determines the remote attachment URL.
type PhotoRef struct {
	ObservationID int
	PhotoID       int
	Index         int
	LicenseCode   string
}

// ExtractPhotos returns the downloadable pictures of an observation.
// Observations without photos yield an empty slice. When neither the
// photo nor the observation carries a license, the license is recorded
// as "unknown".
func ExtractPhotos(obs Observation) []PhotoRef {
	if len(obs.Photos) == 0 {
		return nil
	}

	refs := make([]PhotoRef, 0, len(obs.Photos))
	for i, p := range obs.Photos {
		license := p.LicenseCode
		if license == "" {
			license = obs.LicenseCode
		}
		if license == "" {
			license = "unknown"
		}
		refs = append(refs, PhotoRef{
			ObservationID: obs.ID,
			PhotoID:       p.ID,
			Index:         i,
			LicenseCode:   license,
		})
	}
	return refs
}
