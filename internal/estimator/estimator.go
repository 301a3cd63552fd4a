// Package estimator quantifies parcel damage between two time points by
// reducing SAR backscatter-change statistics on a remote imagery service.
package estimator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pireu2/spotyfire-backend/internal/domain"
	"github.com/pireu2/spotyfire-backend/internal/observability"
)

const (
	// DefaultRatioThreshold marks a pixel as changed when the after/before
	// backscatter ratio exceeds it. Calibrated for surface-water and flood
	// signatures on Sentinel-1 VV; tunable per deployment.
	DefaultRatioThreshold = 1.3

	// compositeWindowDays is how far each composite looks forward from its
	// start date when collecting scenes.
	compositeWindowDays = 10

	// comparisonWindowDays is the span of each period in comparison mode.
	comparisonWindowDays = 30

	squareMetersPerHectare = 10000.0

	dateLayout = "2006-01-02"
)

// NoDataMessage is the error note carried by a zero-valued result when no
// radar scenes matched a period.
const NoDataMessage = "no radar imagery available for the requested period"

// Estimator runs change-detection damage analyses against an imagery service.
type Estimator struct {
	imagery        domain.ImageryService
	ratioThreshold float64
	logger         *slog.Logger
	metrics        *observability.Metrics
}

// New creates an Estimator. A non-positive ratioThreshold falls back to the
// default.
func New(imagery domain.ImageryService, ratioThreshold float64, logger *slog.Logger, metrics *observability.Metrics) *Estimator {
	if ratioThreshold <= 0 {
		ratioThreshold = DefaultRatioThreshold
	}
	return &Estimator{
		imagery:        imagery,
		ratioThreshold: ratioThreshold,
		logger:         logger,
		metrics:        metrics,
	}
}

// AnalyzeWindow runs one single-window analysis: a "before" composite from
// beforeDate and an "after" composite from afterDate, each collecting scenes
// over a fixed forward lookup window. Missing imagery for either composite
// degrades to a zero-valued result with Err set; transport and auth failures
// return an error and no result.
func (e *Estimator) AnalyzeWindow(ctx context.Context, geom domain.GeoJSONGeometry, beforeDate, afterDate time.Time, costPerHa float64) (domain.AnalysisResult, error) {
	start := time.Now()

	result := domain.AnalysisResult{
		DateRangeStart: beforeDate.Format(dateLayout),
		DateRangeEnd:   afterDate.Format(dateLayout),
	}

	before, err := e.imagery.BuildComposite(ctx, geom, beforeDate, compositeWindowDays)
	if err != nil {
		e.metrics.Analyses.WithLabelValues("failed").Inc()
		return domain.AnalysisResult{}, fmt.Errorf("build before composite: %w", err)
	}
	after, err := e.imagery.BuildComposite(ctx, geom, afterDate, compositeWindowDays)
	if err != nil {
		e.metrics.Analyses.WithLabelValues("failed").Inc()
		return domain.AnalysisResult{}, fmt.Errorf("build after composite: %w", err)
	}

	// A zero-band composite is the service's "no scenes matched" signal.
	// Callers decide whether that is fatal; the estimator never does.
	if before.Empty() || after.Empty() {
		e.logger.Warn("no radar imagery for analysis window",
			"before", result.DateRangeStart,
			"after", result.DateRangeEnd,
			"before_bands", before.Bands,
			"after_bands", after.Bands,
		)
		e.metrics.Analyses.WithLabelValues("no_data").Inc()
		result.Err = NoDataMessage
		return result, nil
	}

	stats, err := e.imagery.ChangeArea(ctx, before, after, e.ratioThreshold)
	if err != nil {
		e.metrics.Analyses.WithLabelValues("failed").Inc()
		return domain.AnalysisResult{}, fmt.Errorf("reduce change area: %w", err)
	}

	result.DamagedAreaHa = stats.DamagedM2 / squareMetersPerHectare
	result.TotalAreaHa = stats.TotalM2 / squareMetersPerHectare
	if result.TotalAreaHa > 0 {
		result.DamagePercent = result.DamagedAreaHa / result.TotalAreaHa * 100
	}
	result.EstimatedCost = result.DamagedAreaHa * costPerHa

	overlay, err := e.imagery.ChangeOverlay(ctx, before, after, e.ratioThreshold)
	if err != nil {
		// Non-fatal: the numeric result stands with an empty overlay.
		e.logger.Warn("overlay fetch failed", "error", err)
		e.metrics.OverlayFailures.Inc()
	} else {
		result.OverlayB64 = overlay
	}

	e.metrics.Analyses.WithLabelValues("completed").Inc()
	e.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("damage analysis completed",
		"damage_percent", result.DamagePercent,
		"damaged_ha", result.DamagedAreaHa,
		"total_ha", result.TotalAreaHa,
	)
	return result, nil
}

// CompareIncident runs the single-window analysis twice around an incident
// date: [incident-30d, incident] and [incident, incident+30d]. When exactly
// one period has imagery, its numbers are reported alone; when both do, the
// reported damaged area is the absolute difference of the two periods'
// independently computed damaged areas. That difference is a deliberate
// approximation, not a true temporal diff, chosen for robustness to partial
// data loss.
func (e *Estimator) CompareIncident(ctx context.Context, geom domain.GeoJSONGeometry, incident time.Time, costPerHa float64) (domain.ComparisonResult, error) {
	beforeRes, err := e.AnalyzeWindow(ctx, geom, incident.AddDate(0, 0, -comparisonWindowDays), incident, costPerHa)
	if err != nil {
		return domain.ComparisonResult{}, err
	}
	afterRes, err := e.AnalyzeWindow(ctx, geom, incident, incident.AddDate(0, 0, comparisonWindowDays), costPerHa)
	if err != nil {
		return domain.ComparisonResult{}, err
	}

	cmp := domain.ComparisonResult{Before: beforeRes, After: afterRes}

	switch {
	case beforeRes.NoData() && afterRes.NoData():
		cmp.Failed = true
		cmp.Err = "no radar imagery available for either comparison period"
	case beforeRes.NoData():
		cmp.DamagedAreaHa = afterRes.DamagedAreaHa
		cmp.TotalAreaHa = afterRes.TotalAreaHa
		cmp.DamagePercent = afterRes.DamagePercent
		cmp.EstimatedCost = afterRes.EstimatedCost
	case afterRes.NoData():
		cmp.DamagedAreaHa = beforeRes.DamagedAreaHa
		cmp.TotalAreaHa = beforeRes.TotalAreaHa
		cmp.DamagePercent = beforeRes.DamagePercent
		cmp.EstimatedCost = beforeRes.EstimatedCost
	default:
		delta := beforeRes.DamagedAreaHa - afterRes.DamagedAreaHa
		if delta < 0 {
			delta = -delta
		}
		cmp.DamagedAreaHa = delta
		cmp.TotalAreaHa = afterRes.TotalAreaHa
		if cmp.TotalAreaHa > 0 {
			cmp.DamagePercent = cmp.DamagedAreaHa / cmp.TotalAreaHa * 100
		}
		cmp.EstimatedCost = cmp.DamagedAreaHa * costPerHa
	}

	return cmp, nil
}
