// Package earthengine implements domain.ImageryService against a Google
// Earth Engine REST deployment, authenticated with a service-account key.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/pireu2/spotyfire-backend/internal/domain"
	"github.com/pireu2/spotyfire-backend/internal/observability"
)

const (
	scopeEarthEngine = "https://www.googleapis.com/auth/earthengine"

	// Sentinel-1 ground-range-detected radar, VV polarisation, interferometric
	// wide swath. The only collection the damage pipeline reads.
	collection       = "COPERNICUS/S1_GRD"
	polarisationBand = "VV"
	instrumentMode   = "IW"

	// Area reduction runs at the collection's native resolution.
	nominalScaleMeters = 10
	maxPixels          = 1e9

	overlayDimensions = 512
	overlayPalette    = "FF0000"

	dateLayout = "2006-01-02"
)

// Client talks to the remote imagery service. Authentication is lazy: the
// first call reads the key file and builds an authorized HTTP client, and a
// failed attempt is retried on the next call rather than poisoning the
// process.
type Client struct {
	keyPath     string
	baseURL     string
	serviceArea string
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu         sync.Mutex
	httpClient *http.Client
}

// NewClient creates an imagery client reading credentials from keyPath.
// serviceArea names the country boundary every composite is masked to.
func NewClient(keyPath, baseURL, serviceArea string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		keyPath:     keyPath,
		baseURL:     baseURL,
		serviceArea: serviceArea,
		timeout:     timeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// ensureClient builds the authorized HTTP client on first use.
func (c *Client) ensureClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.httpClient != nil {
		return c.httpClient, nil
	}

	data, err := os.ReadFile(c.keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read service account key: %v", domain.ErrImageryUnavailable, err)
	}
	conf, err := google.JWTConfigFromJSON(data, scopeEarthEngine)
	if err != nil {
		return nil, fmt.Errorf("%w: parse service account key: %v", domain.ErrImageryUnavailable, err)
	}

	// Token refresh must outlive any single request context.
	hc := conf.Client(context.Background())
	hc.Timeout = c.timeout
	c.httpClient = hc
	c.logger.Info("imagery service authenticated", "client_email", conf.Email)
	return hc, nil
}

// BuildComposite mosaics all matching radar scenes from start over a forward
// window of windowDays, clipped to the geometry. A composite with zero bands
// means no scenes matched; that is not an error.
func (c *Client) BuildComposite(ctx context.Context, geom domain.GeoJSONGeometry, start time.Time, windowDays int) (domain.Composite, error) {
	body := compositeRequest{
		Collection:     collection,
		Bands:          []string{polarisationBand},
		InstrumentMode: instrumentMode,
		Geometry:       geom,
		ServiceArea:    c.serviceArea,
		StartDate:      start.Format(dateLayout),
		EndDate:        start.AddDate(0, 0, windowDays).Format(dateLayout),
	}

	var resp compositeResponse
	if err := c.post(ctx, "/v1/composites", "composite", body, &resp); err != nil {
		return domain.Composite{}, err
	}
	return domain.Composite{Name: resp.Name, Bands: resp.BandCount}, nil
}

// ChangeArea reduces the changed-pixel mask between two composites to square
// meters, counting pixels whose after/before ratio exceeds ratioThreshold.
func (c *Client) ChangeArea(ctx context.Context, before, after domain.Composite, ratioThreshold float64) (domain.ChangeStats, error) {
	body := reduceRequest{
		Before:         before.Name,
		After:          after.Name,
		RatioThreshold: ratioThreshold,
		ScaleMeters:    nominalScaleMeters,
		MaxPixels:      maxPixels,
	}

	var resp reduceResponse
	if err := c.post(ctx, "/v1/change:reduceArea", "reduce", body, &resp); err != nil {
		return domain.ChangeStats{}, err
	}
	return domain.ChangeStats{DamagedM2: resp.DamagedM2, TotalM2: resp.TotalM2}, nil
}

// ChangeOverlay renders the changed-pixel mask as a red thumbnail and returns
// it base64 encoded.
func (c *Client) ChangeOverlay(ctx context.Context, before, after domain.Composite, ratioThreshold float64) (string, error) {
	body := thumbnailRequest{
		Before:         before.Name,
		After:          after.Name,
		RatioThreshold: ratioThreshold,
		Dimensions:     overlayDimensions,
		Palette:        []string{overlayPalette},
	}

	var resp thumbnailResponse
	if err := c.post(ctx, "/v1/change:thumbnail", "thumbnail", body, &resp); err != nil {
		return "", err
	}
	return resp.ImageB64, nil
}

func (c *Client) post(ctx context.Context, path, op string, body, out any) error {
	hc, err := c.ensureClient()
	if err != nil {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("imagery service error: status %d: %s", resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("decode %s response: %w", op, err)
	}

	c.metrics.ImageryRequests.WithLabelValues(op, "success").Inc()
	return nil
}

// Wire types for the imagery service API.

type compositeRequest struct {
	Collection     string                 `json:"collection"`
	Bands          []string               `json:"bands"`
	InstrumentMode string                 `json:"instrument_mode"`
	Geometry       domain.GeoJSONGeometry `json:"geometry"`
	ServiceArea    string                 `json:"service_area,omitempty"`
	StartDate      string                 `json:"start_date"`
	EndDate        string                 `json:"end_date"`
}

type compositeResponse struct {
	Name      string `json:"name"`
	BandCount int    `json:"band_count"`
}

type reduceRequest struct {
	Before         string  `json:"before"`
	After          string  `json:"after"`
	RatioThreshold float64 `json:"ratio_threshold"`
	ScaleMeters    int     `json:"scale"`
	MaxPixels      float64 `json:"max_pixels"`
}

type reduceResponse struct {
	DamagedM2 float64 `json:"damaged_m2"`
	TotalM2   float64 `json:"total_m2"`
}

type thumbnailRequest struct {
	Before         string   `json:"before"`
	After          string   `json:"after"`
	RatioThreshold float64  `json:"ratio_threshold"`
	Dimensions     int      `json:"dimensions"`
	Palette        []string `json:"palette"`
}

type thumbnailResponse struct {
	ImageB64 string `json:"image_b64"`
}
