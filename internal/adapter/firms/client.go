// Package firms queries NASA FIRMS for active thermal anomalies. The feed is
// best effort: any failure degrades to fixed placeholder data so callers
// always get a usable response.
package firms

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pireu2/spotyfire-backend/internal/domain"
	"github.com/pireu2/spotyfire-backend/internal/observability"
)

const (
	minDayRange = 1
	maxDayRange = 10

	defaultConfidence = "unknown"
	defaultBrightness = 300.0

	dateLayout = "2006-01-02"
)

// Client reads the FIRMS area CSV API.
type Client struct {
	apiKey     string
	source     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a FIRMS client. An empty apiKey is allowed; every query
// then answers with placeholder data.
func NewClient(apiKey, source, baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		apiKey:     apiKey,
		source:     source,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// ActiveFires returns thermal anomalies inside bbox over dayRange days ending
// at endDate. The range is clamped to the API's 1..10 day limit. Feed
// failures never propagate: the result is marked degraded instead.
func (c *Client) ActiveFires(ctx context.Context, bbox domain.BBox, endDate time.Time, dayRange int) (domain.FireData, error) {
	if dayRange < minDayRange {
		dayRange = minDayRange
	}
	if dayRange > maxDayRange {
		dayRange = maxDayRange
	}

	if c.apiKey == "" {
		return c.fallback("firms api key not configured"), nil
	}

	startDate := endDate.AddDate(0, 0, -(dayRange - 1))
	u := fmt.Sprintf("%s/api/area/csv/%s/%s/%s/%d/%s",
		c.baseURL, c.apiKey, c.source, bbox.String(), dayRange, startDate.Format(dateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.FireData{}, fmt.Errorf("create firms request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fallback(fmt.Sprintf("firms request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fallback(fmt.Sprintf("firms api status %d", resp.StatusCode)), nil
	}

	points, err := parseCSV(resp.Body)
	if err != nil {
		return c.fallback(fmt.Sprintf("firms csv unusable: %v", err)), nil
	}

	c.logger.Debug("firms query completed", "points", len(points), "day_range", dayRange)
	return domain.FireData{Points: points}, nil
}

// fallback logs why the feed was bypassed and returns placeholder detections
// near the Brăila agricultural region.
func (c *Client) fallback(reason string) domain.FireData {
	c.logger.Warn("serving placeholder fire data", "reason", reason)
	c.metrics.FirmsFallbacks.Inc()
	return domain.FireData{
		Points: []domain.FirePoint{
			{Lat: 45.435, Lon: 27.722, Confidence: "high", Brightness: 320.5},
			{Lat: 45.441, Lon: 27.735, Confidence: "nominal", Brightness: 315.2},
		},
		Degraded: true,
	}
}

// parseCSV reads the FIRMS CSV body. Latitude and longitude columns are
// required; confidence and brightness fall back to defaults per row. Rows
// with unparseable coordinates are skipped.
func parseCSV(r io.Reader) ([]domain.FirePoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	latIdx, ok := col["latitude"]
	if !ok {
		return nil, fmt.Errorf("missing latitude column")
	}
	lonIdx, ok := col["longitude"]
	if !ok {
		return nil, fmt.Errorf("missing longitude column")
	}
	confIdx, hasConf := col["confidence"]
	brightIdx, hasBright := col["bright_ti4"]

	var points []domain.FirePoint
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if latIdx >= len(record) || lonIdx >= len(record) {
			continue
		}

		lat, err := strconv.ParseFloat(record[latIdx], 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(record[lonIdx], 64)
		if err != nil {
			continue
		}

		point := domain.FirePoint{
			Lat:        lat,
			Lon:        lon,
			Confidence: defaultConfidence,
			Brightness: defaultBrightness,
		}
		if hasConf && confIdx < len(record) && record[confIdx] != "" {
			point.Confidence = record[confIdx]
		}
		if hasBright && brightIdx < len(record) {
			if b, err := strconv.ParseFloat(record[brightIdx], 64); err == nil {
				point.Brightness = b
			}
		}
		points = append(points, point)
	}
	return points, nil
}
