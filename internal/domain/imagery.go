package domain

import (
	"context"
	"time"
)

// Composite is a handle to a server-side image mosaic. Bands is zero when no
// scenes matched the filter; that is a valid "no data" signal, not an error.
type Composite struct {
	Name  string
	Bands int
}

// Empty reports whether the composite matched no scenes.
func (c Composite) Empty() bool {
	return c.Bands == 0
}

// ChangeStats are the two aggregate sums pulled back from a remote change
// reduction, in square meters.
type ChangeStats struct {
	DamagedM2 float64
	TotalM2   float64
}

// ImageryService builds SAR composites and reduces change statistics on a
// remote geospatial compute service. All pixel-level work happens remotely.
type ImageryService interface {
	// BuildComposite filters the VV-polarization SAR collection to the
	// geometry and [start, start+windowDays), mosaics the matching scenes,
	// and clips the result. Errors are fatal (auth, transport); an empty
	// composite is returned through Composite.Bands == 0.
	BuildComposite(ctx context.Context, geom GeoJSONGeometry, start time.Time, windowDays int) (Composite, error)

	// ChangeArea sums pixel area over the after/before ratio>threshold mask
	// and over the whole clipped geometry.
	ChangeArea(ctx context.Context, before, after Composite, ratioThreshold float64) (ChangeStats, error)

	// ChangeOverlay renders the change mask as a color-tinted PNG and
	// returns it base64-encoded.
	ChangeOverlay(ctx context.Context, before, after Composite, ratioThreshold float64) (string, error)
}

// AnalysisResult is one single-window damage estimate. Err is set, with all
// numbers zero, when imagery was missing for the period; callers decide
// whether that is fatal.
type AnalysisResult struct {
	DamagePercent  float64 `json:"damage_percent"`
	DamagedAreaHa  float64 `json:"damaged_area_ha"`
	TotalAreaHa    float64 `json:"total_area_ha"`
	EstimatedCost  float64 `json:"estimated_cost"`
	OverlayB64     string  `json:"overlay_b64,omitempty"`
	DateRangeStart string  `json:"date_range_start"`
	DateRangeEnd   string  `json:"date_range_end"`
	Err            string  `json:"error,omitempty"`
}

// NoData reports whether the result is a degraded zero-value placeholder.
func (r AnalysisResult) NoData() bool {
	return r.Err != ""
}

// ComparisonResult holds an incident-centered before/after comparison. The
// top-level damaged area is the absolute difference of the two periods'
// independently computed damaged areas, a deliberate approximation that
// stays robust to partial data loss.
type ComparisonResult struct {
	Before AnalysisResult `json:"before_period"`
	After  AnalysisResult `json:"after_period"`

	DamagePercent float64 `json:"damage_percent"`
	DamagedAreaHa float64 `json:"damaged_area_ha"`
	TotalAreaHa   float64 `json:"total_area_ha"`
	EstimatedCost float64 `json:"estimated_cost"`
	Failed        bool    `json:"failed"`
	Err           string  `json:"error,omitempty"`
}
