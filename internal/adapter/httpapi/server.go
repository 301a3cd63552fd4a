// Package httpapi exposes the service over HTTP: damage analyses, hotspot
// queries, proximity lookups, and operational endpoints.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pireu2/spotyfire-backend/internal/config"
	"github.com/pireu2/spotyfire-backend/internal/domain"
)

const dateLayout = "2006-01-02"

type contextKey string

const userIDKey contextKey = "user_id"

// Store is the persistence surface the API reads and writes.
type Store interface {
	ActiveAlerts(ctx context.Context) ([]domain.Alert, error)
	PropertiesForUser(ctx context.Context, userID string) ([]domain.Property, error)
	PropertyForUser(ctx context.Context, userID string, propertyID uuid.UUID) (domain.Property, error)
	GeometryByID(ctx context.Context, id uuid.UUID) (domain.Geometry, error)
	CreateAnalysis(ctx context.Context, analysis *domain.SatelliteAnalysis) error
	AnalysesForProperty(ctx context.Context, propertyID uuid.UUID) ([]domain.SatelliteAnalysis, error)
	AnalysisByID(ctx context.Context, id uuid.UUID) (domain.SatelliteAnalysis, error)
	MarkAnalysed(ctx context.Context, propertyID uuid.UUID, riskScore float64) error
	DeactivateAlert(ctx context.Context, alertID uuid.UUID) error
}

// Analyzer runs damage estimates.
type Analyzer interface {
	AnalyzeWindow(ctx context.Context, geom domain.GeoJSONGeometry, beforeDate, afterDate time.Time, costPerHa float64) (domain.AnalysisResult, error)
	CompareIncident(ctx context.Context, geom domain.GeoJSONGeometry, incident time.Time, costPerHa float64) (domain.ComparisonResult, error)
}

// FireSource answers hotspot queries.
type FireSource interface {
	ActiveFires(ctx context.Context, bbox domain.BBox, endDate time.Time, dayRange int) (domain.FireData, error)
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server routes the public API plus health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	store      Store
	analyzer   Analyzer
	fires      FireSource
	logger     *slog.Logger

	defaultCostPerHa float64
	analysisTimeout  time.Duration
}

// NewServer wires the router and the listener.
func NewServer(cfg *config.Config, store Store, analyzer Analyzer, fires FireSource, ready ReadinessChecker, logger *slog.Logger) *Server {
	s := &Server{
		store:            store,
		analyzer:         analyzer,
		fires:            fires,
		logger:           logger,
		defaultCostPerHa: cfg.DefaultCostPerHa,
		analysisTimeout:  cfg.AnalysisTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", handleReady(ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/fires", s.handleFires)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/properties/{propertyID}/analyze", s.handleAnalyze)
			r.Post("/properties/{propertyID}/compare", s.handleCompare)
			r.Get("/properties/{propertyID}/analyses", s.handleListAnalyses)
			r.Get("/analyses/{analysisID}", s.handleGetAnalysis)
			r.Get("/analyses/{analysisID}/overlay", s.handleOverlay)
			r.Get("/alerts/near", s.handleAlertsNear)
			r.Post("/alerts/{alertID}/dismiss", s.handleDismissAlert)
		})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.AnalysisTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// --- middleware ---

// requireUser pulls the caller identity set by the auth proxy.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type analyzeRequest struct {
	DateRangeStart string   `json:"date_range_start"`
	DateRangeEnd   string   `json:"date_range_end"`
	CostPerHa      *float64 `json:"cost_per_ha"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	property, geom, ok := s.loadParcelGeometry(w, r)
	if !ok {
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	startDate, err := time.Parse(dateLayout, req.DateRangeStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date_range_start")
		return
	}
	endDate, err := time.Parse(dateLayout, req.DateRangeEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date_range_end")
		return
	}
	if endDate.Before(startDate) {
		writeError(w, http.StatusBadRequest, "date_range_end before date_range_start")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.analysisTimeout)
	defer cancel()

	result, err := s.analyzer.AnalyzeWindow(ctx, geom, startDate, endDate, s.costPerHa(req.CostPerHa))
	if err != nil {
		s.logger.Error("analysis failed", "property_id", property.ID, "error", err)
		writeError(w, http.StatusBadGateway, "imagery service unavailable")
		return
	}

	analysis := domain.SatelliteAnalysis{
		PropertyID:      property.ID,
		AnalysisType:    "sar",
		DateRangeStart:  startDate,
		DateRangeEnd:    endDate,
		DamagePercent:   result.DamagePercent,
		DamagedAreaHa:   result.DamagedAreaHa,
		TotalAreaHa:     result.TotalAreaHa,
		EstimatedCost:   result.EstimatedCost,
		OverlayImageB64: result.OverlayB64,
		ErrorNote:       result.Err,
	}
	if !s.persistAnalysis(w, r, &analysis, result.NoData()) {
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{Analysis: analysis, Result: result})
}

type compareRequest struct {
	IncidentDate string   `json:"incident_date"`
	CostPerHa    *float64 `json:"cost_per_ha"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	property, geom, ok := s.loadParcelGeometry(w, r)
	if !ok {
		return
	}

	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	incident, err := time.Parse(dateLayout, req.IncidentDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident_date")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.analysisTimeout)
	defer cancel()

	result, err := s.analyzer.CompareIncident(ctx, geom, incident, s.costPerHa(req.CostPerHa))
	if err != nil {
		s.logger.Error("comparison failed", "property_id", property.ID, "error", err)
		writeError(w, http.StatusBadGateway, "imagery service unavailable")
		return
	}

	analysis := domain.SatelliteAnalysis{
		PropertyID:       property.ID,
		AnalysisType:     "sar_comparison",
		DateRangeStart:   incident.AddDate(0, 0, -30),
		DateRangeEnd:     incident.AddDate(0, 0, 30),
		DamagePercent:    result.DamagePercent,
		DamagedAreaHa:    result.DamagedAreaHa,
		TotalAreaHa:      result.TotalAreaHa,
		EstimatedCost:    result.EstimatedCost,
		OverlayImageB64:  result.After.OverlayB64,
		BeforeOverlayB64: result.Before.OverlayB64,
		ErrorNote:        result.Err,
	}
	if !s.persistAnalysis(w, r, &analysis, result.Failed) {
		return
	}

	writeJSON(w, http.StatusOK, compareResponse{Analysis: analysis, Result: result})
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	property, ok := s.loadOwnedProperty(w, r)
	if !ok {
		return
	}
	analyses, err := s.store.AnalysesForProperty(r.Context(), property.ID)
	if err != nil {
		s.serverError(w, "list analyses", err)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, ok := s.loadOwnedAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	analysis, ok := s.loadOwnedAnalysis(w, r)
	if !ok {
		return
	}
	if analysis.OverlayImageB64 == "" {
		writeError(w, http.StatusNotFound, "analysis has no overlay")
		return
	}
	img, err := base64.StdEncoding.DecodeString(analysis.OverlayImageB64)
	if err != nil {
		s.serverError(w, "decode overlay", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (s *Server) handleFires(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bbox, err := parseBBox(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	endDate := domain.Now().UTC()
	if v := q.Get("end_date"); v != "" {
		endDate, err = time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date")
			return
		}
	}
	days := 3
	if v := q.Get("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
	}

	data, err := s.fires.ActiveFires(r.Context(), bbox, endDate, days)
	if err != nil {
		s.serverError(w, "query fires", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleAlertsNear(w http.ResponseWriter, r *http.Request) {
	radiusKm := domain.DefaultAlertRadiusKm
	if v := r.URL.Query().Get("radius_km"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radiusKm = parsed
	}

	properties, err := s.store.PropertiesForUser(r.Context(), userID(r))
	if err != nil {
		s.serverError(w, "list properties", err)
		return
	}
	alerts, err := s.store.ActiveAlerts(r.Context())
	if err != nil {
		s.serverError(w, "list alerts", err)
		return
	}

	matches := make([]domain.AlertMatch, 0)
	for _, alert := range alerts {
		if !alert.HasLocation() {
			continue
		}
		for _, property := range properties {
			if !property.HasCenter() {
				continue
			}
			d := domain.DistanceKm(*alert.Lat, *alert.Lng, *property.CenterLat, *property.CenterLng)
			if d > radiusKm {
				continue
			}
			matches = append(matches, domain.AlertMatch{
				Alert:        alert,
				Property:     property,
				DistanceKm:   d,
				WithinRadius: d <= alert.Radius(),
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := s.store.DeactivateAlert(r.Context(), alertID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found or already dismissed")
			return
		}
		s.serverError(w, "dismiss alert", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// --- shared handler plumbing ---

// loadOwnedProperty resolves the path property and enforces ownership.
func (s *Server) loadOwnedProperty(w http.ResponseWriter, r *http.Request) (domain.Property, bool) {
	propertyID, err := uuid.Parse(chi.URLParam(r, "propertyID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid property id")
		return domain.Property{}, false
	}
	property, err := s.store.PropertyForUser(r.Context(), userID(r), propertyID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "property not found")
		return domain.Property{}, false
	}
	if err != nil {
		s.serverError(w, "fetch property", err)
		return domain.Property{}, false
	}
	return property, true
}

// loadParcelGeometry resolves the property plus its analyzable geometry.
func (s *Server) loadParcelGeometry(w http.ResponseWriter, r *http.Request) (domain.Property, domain.GeoJSONGeometry, bool) {
	property, ok := s.loadOwnedProperty(w, r)
	if !ok {
		return domain.Property{}, domain.GeoJSONGeometry{}, false
	}
	if property.GeometryID == nil {
		writeError(w, http.StatusBadRequest, "property has no geometry")
		return domain.Property{}, domain.GeoJSONGeometry{}, false
	}
	geometry, err := s.store.GeometryByID(r.Context(), *property.GeometryID)
	if err != nil {
		s.serverError(w, "fetch geometry", err)
		return domain.Property{}, domain.GeoJSONGeometry{}, false
	}
	geom, err := geometry.GeoJSON()
	if err != nil {
		writeError(w, http.StatusBadRequest, "property geometry is not analyzable")
		return domain.Property{}, domain.GeoJSONGeometry{}, false
	}
	return property, geom, true
}

// loadOwnedAnalysis resolves the path analysis and enforces ownership via its
// parcel. Foreign analyses read as missing, not forbidden.
func (s *Server) loadOwnedAnalysis(w http.ResponseWriter, r *http.Request) (domain.SatelliteAnalysis, bool) {
	analysisID, err := uuid.Parse(chi.URLParam(r, "analysisID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return domain.SatelliteAnalysis{}, false
	}
	analysis, err := s.store.AnalysisByID(r.Context(), analysisID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return domain.SatelliteAnalysis{}, false
	}
	if err != nil {
		s.serverError(w, "fetch analysis", err)
		return domain.SatelliteAnalysis{}, false
	}
	if _, err := s.store.PropertyForUser(r.Context(), userID(r), analysis.PropertyID); err != nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return domain.SatelliteAnalysis{}, false
	}
	return analysis, true
}

// persistAnalysis stores the record and, for usable results, stamps the
// parcel's risk score.
func (s *Server) persistAnalysis(w http.ResponseWriter, r *http.Request, analysis *domain.SatelliteAnalysis, degraded bool) bool {
	if err := s.store.CreateAnalysis(r.Context(), analysis); err != nil {
		s.serverError(w, "persist analysis", err)
		return false
	}
	if degraded {
		return true
	}
	if err := s.store.MarkAnalysed(r.Context(), analysis.PropertyID, analysis.DamagePercent); err != nil {
		// The analysis itself is saved; a stale risk score is tolerable.
		s.logger.Warn("risk score update failed", "property_id", analysis.PropertyID, "error", err)
	}
	return true
}

func (s *Server) costPerHa(override *float64) float64 {
	if override != nil && *override > 0 {
		return *override
	}
	return s.defaultCostPerHa
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseBBox(q map[string][]string) (domain.BBox, error) {
	get := func(key string) (float64, error) {
		vs := q[key]
		if len(vs) == 0 || vs[0] == "" {
			return 0, errors.New("missing " + key)
		}
		return strconv.ParseFloat(vs[0], 64)
	}
	west, err := get("west")
	if err != nil {
		return domain.BBox{}, err
	}
	south, err := get("south")
	if err != nil {
		return domain.BBox{}, err
	}
	east, err := get("east")
	if err != nil {
		return domain.BBox{}, err
	}
	north, err := get("north")
	if err != nil {
		return domain.BBox{}, err
	}
	bbox := domain.BBox{West: west, South: south, East: east, North: north}
	if err := bbox.Validate(); err != nil {
		return domain.BBox{}, err
	}
	return bbox, nil
}

// --- response types ---

type analyzeResponse struct {
	Analysis domain.SatelliteAnalysis `json:"analysis"`
	Result   domain.AnalysisResult    `json:"result"`
}

type compareResponse struct {
	Analysis domain.SatelliteAnalysis `json:"analysis"`
	Result   domain.ComparisonResult  `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
