package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/pireu2/spotyfire-backend/internal/config"
	"github.com/pireu2/spotyfire-backend/internal/domain"
)

// --- fakes ---

type fakeStore struct {
	properties map[uuid.UUID]domain.Property
	geometries map[uuid.UUID]domain.Geometry
	analyses   map[uuid.UUID]domain.SatelliteAnalysis
	alerts     []domain.Alert

	created        []domain.SatelliteAnalysis
	markedProperty uuid.UUID
	markedScore    float64
	markCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		properties: map[uuid.UUID]domain.Property{},
		geometries: map[uuid.UUID]domain.Geometry{},
		analyses:   map[uuid.UUID]domain.SatelliteAnalysis{},
	}
}

func (f *fakeStore) ActiveAlerts(_ context.Context) ([]domain.Alert, error) {
	return f.alerts, nil
}

func (f *fakeStore) PropertiesForUser(_ context.Context, userID string) ([]domain.Property, error) {
	var out []domain.Property
	for _, p := range f.properties {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) PropertyForUser(_ context.Context, userID string, propertyID uuid.UUID) (domain.Property, error) {
	p, ok := f.properties[propertyID]
	if !ok || p.UserID != userID {
		return domain.Property{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GeometryByID(_ context.Context, id uuid.UUID) (domain.Geometry, error) {
	g, ok := f.geometries[id]
	if !ok {
		return domain.Geometry{}, domain.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) CreateAnalysis(_ context.Context, analysis *domain.SatelliteAnalysis) error {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	f.created = append(f.created, *analysis)
	f.analyses[analysis.ID] = *analysis
	return nil
}

func (f *fakeStore) AnalysesForProperty(_ context.Context, propertyID uuid.UUID) ([]domain.SatelliteAnalysis, error) {
	var out []domain.SatelliteAnalysis
	for _, a := range f.analyses {
		if a.PropertyID == propertyID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) AnalysisByID(_ context.Context, id uuid.UUID) (domain.SatelliteAnalysis, error) {
	a, ok := f.analyses[id]
	if !ok {
		return domain.SatelliteAnalysis{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) MarkAnalysed(_ context.Context, propertyID uuid.UUID, riskScore float64) error {
	f.markedProperty = propertyID
	f.markedScore = riskScore
	f.markCalls++
	return nil
}

func (f *fakeStore) DeactivateAlert(_ context.Context, alertID uuid.UUID) error {
	for i, a := range f.alerts {
		if a.ID == alertID && a.IsActive {
			f.alerts[i].IsActive = false
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeAnalyzer struct {
	result     domain.AnalysisResult
	comparison domain.ComparisonResult
	err        error
}

func (f *fakeAnalyzer) AnalyzeWindow(_ context.Context, _ domain.GeoJSONGeometry, _, _ time.Time, _ float64) (domain.AnalysisResult, error) {
	return f.result, f.err
}

func (f *fakeAnalyzer) CompareIncident(_ context.Context, _ domain.GeoJSONGeometry, _ time.Time, _ float64) (domain.ComparisonResult, error) {
	return f.comparison, f.err
}

type fakeFires struct {
	data domain.FireData
	bbox domain.BBox
}

func (f *fakeFires) ActiveFires(_ context.Context, bbox domain.BBox, _ time.Time, _ int) (domain.FireData, error) {
	f.bbox = bbox
	return f.data, nil
}

type readyFunc func(ctx context.Context) error

func (f readyFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

// --- helpers ---

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:         ":0",
		DefaultCostPerHa: 5000,
		AnalysisTimeout:  30 * time.Second,
	}
}

func newTestServer(store *fakeStore, analyzer *fakeAnalyzer, fires *fakeFires, ready ReadinessChecker) *Server {
	if ready == nil {
		ready = readyFunc(func(context.Context) error { return nil })
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(testConfig(), store, analyzer, fires, ready, logger)
}

func ptr(f float64) *float64 { return &f }

// seedProperty installs a parcel with a valid polygon for user-1.
func seedProperty(store *fakeStore) domain.Property {
	geometryID := uuid.New()
	store.geometries[geometryID] = domain.Geometry{
		ID:          geometryID,
		Type:        "Polygon",
		Coordinates: datatypes.JSON(`[[[27.7,45.4],[27.8,45.4],[27.8,45.5],[27.7,45.4]]]`),
	}
	property := domain.Property{
		ID:         uuid.New(),
		UserID:     "user-1",
		Name:       "North field",
		GeometryID: &geometryID,
		CenterLat:  ptr(45.45),
		CenterLng:  ptr(27.75),
	}
	store.properties[property.ID] = property
	return property
}

func doRequest(s *Server, method, path, body, user string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

// --- operational endpoints ---

func TestHealthz(t *testing.T) {
	s := newTestServer(newFakeStore(), &fakeAnalyzer{}, &fakeFires{}, nil)
	rec := doRequest(s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := newTestServer(newFakeStore(), &fakeAnalyzer{}, &fakeFires{}, nil)
		rec := doRequest(s, http.MethodGet, "/readyz", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("not ready", func(t *testing.T) {
		notReady := readyFunc(func(context.Context) error { return errors.New("no cycle yet") })
		s := newTestServer(newFakeStore(), &fakeAnalyzer{}, &fakeFires{}, notReady)
		rec := doRequest(s, http.MethodGet, "/readyz", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "no cycle yet")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(newFakeStore(), &fakeAnalyzer{}, &fakeFires{}, nil)
	rec := doRequest(s, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- analyze ---

func TestAnalyze_HappyPath(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{
		DamagePercent:  42.5,
		DamagedAreaHa:  85,
		TotalAreaHa:    200,
		EstimatedCost:  425000,
		OverlayB64:     "aW1n",
		DateRangeStart: "2024-09-01",
		DateRangeEnd:   "2024-09-14",
	}}
	s := newTestServer(store, analyzer, &fakeFires{}, nil)

	body := `{"date_range_start":"2024-09-01","date_range_end":"2024-09-14"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/analyze", body, "user-1")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 42.5, resp.Result.DamagePercent)
	assert.Equal(t, "sar", resp.Analysis.AnalysisType)
	assert.Equal(t, property.ID, resp.Analysis.PropertyID)

	require.Len(t, store.created, 1)
	assert.Equal(t, "aW1n", store.created[0].OverlayImageB64)
	assert.Equal(t, 1, store.markCalls)
	assert.Equal(t, property.ID, store.markedProperty)
	assert.Equal(t, 42.5, store.markedScore)
}

func TestAnalyze_NoDataStillSucceeds(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{
		Err:            "no radar imagery available for the requested period",
		DateRangeStart: "2024-09-01",
		DateRangeEnd:   "2024-09-14",
	}}
	s := newTestServer(store, analyzer, &fakeFires{}, nil)

	body := `{"date_range_start":"2024-09-01","date_range_end":"2024-09-14"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/analyze", body, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no radar imagery")
	require.Len(t, store.created, 1)
	assert.NotEmpty(t, store.created[0].ErrorNote)
	assert.Zero(t, store.markCalls, "degraded result must not update risk score")
}

func TestAnalyze_ImageryOutageIsBadGateway(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analyzer := &fakeAnalyzer{err: domain.ErrImageryUnavailable}
	s := newTestServer(store, analyzer, &fakeFires{}, nil)

	body := `{"date_range_start":"2024-09-01","date_range_end":"2024-09-14"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/analyze", body, "user-1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, store.created)
}

func TestAnalyze_RequiresUser(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/analyze", "{}", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnalyze_ForeignPropertyIsNotFound(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store) // owned by user-1
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	body := `{"date_range_start":"2024-09-01","date_range_end":"2024-09-14"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/analyze", body, "intruder")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze_PropertyWithoutGeometry(t *testing.T) {
	store := newFakeStore()
	property := domain.Property{ID: uuid.New(), UserID: "user-1", Name: "bare parcel"}
	store.properties[property.ID] = property
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	body := `{"date_range_start":"2024-09-01","date_range_end":"2024-09-14"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/analyze", body, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_RejectsBadDates(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)
	path := "/api/properties/" + property.ID.String() + "/analyze"

	rec := doRequest(s, http.MethodPost, path, `{"date_range_start":"09/01/2024","date_range_end":"2024-09-14"}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, path, `{"date_range_start":"2024-09-14","date_range_end":"2024-09-01"}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- compare ---

func TestCompare_BothPeriodsFailed(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analyzer := &fakeAnalyzer{comparison: domain.ComparisonResult{
		Failed: true,
		Err:    "no radar imagery available for either comparison period",
	}}
	s := newTestServer(store, analyzer, &fakeFires{}, nil)

	body := `{"incident_date":"2024-09-15"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/compare", body, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp compareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Failed)
	assert.Equal(t, "sar_comparison", resp.Analysis.AnalysisType)
	assert.Zero(t, store.markCalls)
}

func TestCompare_PersistsBothOverlays(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analyzer := &fakeAnalyzer{comparison: domain.ComparisonResult{
		Before:        domain.AnalysisResult{OverlayB64: "YmVmb3Jl", DamagedAreaHa: 20},
		After:         domain.AnalysisResult{OverlayB64: "YWZ0ZXI=", DamagedAreaHa: 45},
		DamagedAreaHa: 25,
		TotalAreaHa:   100,
		DamagePercent: 25,
	}}
	s := newTestServer(store, analyzer, &fakeFires{}, nil)

	body := `{"incident_date":"2024-09-15"}`
	rec := doRequest(s, http.MethodPost, "/api/properties/"+property.ID.String()+"/compare", body, "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, "YWZ0ZXI=", store.created[0].OverlayImageB64)
	assert.Equal(t, "YmVmb3Jl", store.created[0].BeforeOverlayB64)
	assert.Equal(t, 1, store.markCalls)
}

// --- analyses ---

func TestGetAnalysis_OwnershipEnforced(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analysis := domain.SatelliteAnalysis{ID: uuid.New(), PropertyID: property.ID, AnalysisType: "sar"}
	store.analyses[analysis.ID] = analysis
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/analyses/"+analysis.ID.String(), "", "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/analyses/"+analysis.ID.String(), "", "intruder")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverlay_DecodesPNG(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	analysis := domain.SatelliteAnalysis{
		ID:              uuid.New(),
		PropertyID:      property.ID,
		OverlayImageB64: base64.StdEncoding.EncodeToString(png),
	}
	store.analyses[analysis.ID] = analysis
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/analyses/"+analysis.ID.String()+"/overlay", "", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestOverlay_MissingIsNotFound(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	analysis := domain.SatelliteAnalysis{ID: uuid.New(), PropertyID: property.ID}
	store.analyses[analysis.ID] = analysis
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/analyses/"+analysis.ID.String()+"/overlay", "", "user-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- fires ---

func TestFires_PassesThroughDegradedFlag(t *testing.T) {
	fires := &fakeFires{data: domain.FireData{
		Points:   []domain.FirePoint{{Lat: 45.435, Lon: 27.722, Confidence: "high", Brightness: 320.5}},
		Degraded: true,
	}}
	s := newTestServer(newFakeStore(), &fakeAnalyzer{}, fires, nil)

	rec := doRequest(s, http.MethodGet, "/api/fires?west=27&south=45&east=28&north=46&days=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var data domain.FireData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.True(t, data.Degraded)
	require.Len(t, data.Points, 1)
	assert.Equal(t, domain.BBox{West: 27, South: 45, East: 28, North: 46}, fires.bbox)
}

func TestFires_RejectsBadBBox(t *testing.T) {
	s := newTestServer(newFakeStore(), &fakeAnalyzer{}, &fakeFires{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/fires?west=27&south=45&east=28", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/fires?west=28&south=45&east=27&north=46", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- alerts ---

func TestAlertsNear_SortedByDistance(t *testing.T) {
	store := newFakeStore()
	property := seedProperty(store)
	lat, lng := *property.CenterLat, *property.CenterLng

	far := domain.Alert{ID: uuid.New(), Type: domain.AlertTypeFire, Severity: domain.SeverityHigh,
		Lat: ptr(lat + 0.05), Lng: ptr(lng), IsActive: true}
	near := domain.Alert{ID: uuid.New(), Type: domain.AlertTypeFlood, Severity: domain.SeverityMedium,
		Lat: ptr(lat + 0.01), Lng: ptr(lng), IsActive: true}
	beyond := domain.Alert{ID: uuid.New(), Type: domain.AlertTypeFire, Severity: domain.SeverityLow,
		Lat: ptr(lat + 2), Lng: ptr(lng), IsActive: true}
	store.alerts = []domain.Alert{far, near, beyond}

	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)
	rec := doRequest(s, http.MethodGet, "/api/alerts/near", "", "user-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []domain.AlertMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 2, "alert beyond the radius must be excluded")
	assert.Equal(t, near.ID, matches[0].Alert.ID)
	assert.Equal(t, far.ID, matches[1].Alert.ID)
	assert.Less(t, matches[0].DistanceKm, matches[1].DistanceKm)
}

func TestAlertsNear_RejectsBadRadius(t *testing.T) {
	s := newTestServer(newFakeStore(), &fakeAnalyzer{}, &fakeFires{}, nil)
	rec := doRequest(s, http.MethodGet, "/api/alerts/near?radius_km=-5", "", "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDismissAlert(t *testing.T) {
	store := newFakeStore()
	alert := domain.Alert{ID: uuid.New(), Type: domain.AlertTypeFire, Severity: domain.SeverityHigh, IsActive: true}
	store.alerts = []domain.Alert{alert}
	s := newTestServer(store, &fakeAnalyzer{}, &fakeFires{}, nil)

	rec := doRequest(s, http.MethodPost, "/api/alerts/"+alert.ID.String()+"/dismiss", "", "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, store.alerts[0].IsActive)

	// Dismissing again: already inactive.
	rec = doRequest(s, http.MethodPost, "/api/alerts/"+alert.ID.String()+"/dismiss", "", "user-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
