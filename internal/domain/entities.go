package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AlertType classifies the hazard an alert describes.
type AlertType string

const (
	AlertTypeFire    AlertType = "fire"
	AlertTypeFlood   AlertType = "flood"
	AlertTypeNDVI    AlertType = "ndvi"
	AlertTypeWarning AlertType = "warning"
)

// AlertSeverity is the four-level severity tier used across the system.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// DefaultAlertRadiusKm applies when an alert carries no influence radius.
const DefaultAlertRadiusKm = 10.0

// Geometry is an immutable polygon or multi-polygon, stored as GeoJSON
// coordinates. Referenced by exactly one property in practice.
type Geometry struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Type        string         `gorm:"not null" json:"type"` // "Polygon" or "MultiPolygon"
	Coordinates datatypes.JSON `gorm:"type:jsonb" json:"coordinates"`
	CreatedAt   time.Time      `json:"created_at"`
}

// GeoJSON converts the stored geometry into the wire form sent to the
// remote imagery service, validating it on the way out.
func (g Geometry) GeoJSON() (GeoJSONGeometry, error) {
	if g.Type != "Polygon" && g.Type != "MultiPolygon" {
		return GeoJSONGeometry{}, ErrInvalidGeometry
	}
	if len(g.Coordinates) == 0 {
		return GeoJSONGeometry{}, ErrInvalidGeometry
	}
	return GeoJSONGeometry{
		Type:        g.Type,
		Coordinates: json.RawMessage(g.Coordinates),
	}, nil
}

// GeoJSONGeometry is a GeoJSON geometry object. Coordinates stay opaque:
// the remote service interprets them, this system never does polygon math.
type GeoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Property is a named land parcel owned by a user. The center coordinate
// backs all distance checks; it is assumed to lie within the geometry's
// extent. RiskScore and LastAnalysedAt are written only when an analysis
// completes.
type Property struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         string     `gorm:"index;not null" json:"user_id"`
	Name           string     `gorm:"not null" json:"name"`
	GeometryID     *uuid.UUID `gorm:"type:uuid" json:"geometry_id,omitempty"`
	CenterLat      *float64   `json:"center_lat,omitempty"`
	CenterLng      *float64   `json:"center_lng,omitempty"`
	CropType       *string    `json:"crop_type,omitempty"`
	AreaHa         *float64   `json:"area_ha,omitempty"`
	RiskScore      float64    `json:"risk_score"`
	LastAnalysedAt *time.Time `json:"last_analysed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasCenter reports whether the parcel carries a concrete center coordinate.
func (p Property) HasCenter() bool {
	return p.CenterLat != nil && p.CenterLng != nil
}

// SatelliteAnalysis is the immutable record of one estimator run.
type SatelliteAnalysis struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PropertyID       uuid.UUID `gorm:"type:uuid;index;not null" json:"property_id"`
	AnalysisType     string    `gorm:"not null" json:"analysis_type"` // "sar" or "sar_comparison"
	DateRangeStart   time.Time `gorm:"type:date" json:"date_range_start"`
	DateRangeEnd     time.Time `gorm:"type:date" json:"date_range_end"`
	DamagePercent    float64   `json:"damage_percent"`
	DamagedAreaHa    float64   `json:"damaged_area_ha"`
	TotalAreaHa      float64   `json:"total_area_ha"`
	EstimatedCost    float64   `json:"estimated_cost"`
	NDVIBefore       *float64  `json:"ndvi_before,omitempty"`
	NDVIAfter        *float64  `json:"ndvi_after,omitempty"`
	OverlayImageB64  string    `gorm:"type:text" json:"-"`
	BeforeOverlayB64 string    `gorm:"type:text" json:"-"` // comparison mode only
	ErrorNote        string    `json:"error_note,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Alert is a hazard event near zero or more parcels. Dismissing an alert
// deactivates it; alerts are never deleted.
type Alert struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Type       AlertType     `gorm:"not null" json:"type"`
	Severity   AlertSeverity `gorm:"not null" json:"severity"`
	Message    string        `json:"message"`
	Sector     string        `json:"sector"`
	Lat        *float64      `json:"lat,omitempty"`
	Lng        *float64      `json:"lng,omitempty"`
	RadiusKm   *float64      `json:"radius_km,omitempty"`
	PropertyID *uuid.UUID    `gorm:"type:uuid" json:"property_id,omitempty"`
	IsActive   bool          `gorm:"index" json:"is_active"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// HasLocation reports whether the alert carries a concrete point location.
func (a Alert) HasLocation() bool {
	return a.Lat != nil && a.Lng != nil
}

// Radius returns the alert's influence radius, defaulting when unset.
func (a Alert) Radius() float64 {
	if a.RadiusKm != nil && *a.RadiusKm > 0 {
		return *a.RadiusKm
	}
	return DefaultAlertRadiusKm
}

// FirePoint is a single thermal-anomaly detection. Transient: produced per
// query, consumed immediately, never persisted.
type FirePoint struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence string  `json:"confidence"`
	Brightness float64 `json:"brightness"`
}

// FireData is the result of one hotspot query. Degraded marks placeholder
// data substituted because the feed was unavailable or misconfigured.
type FireData struct {
	Points   []FirePoint `json:"points"`
	Degraded bool        `json:"degraded"`
}

// Contact is a deliverable notification destination resolved from the user
// directory.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AlertMatch pairs a relevant alert with an affected property.
type AlertMatch struct {
	Alert        Alert    `json:"alert"`
	Property     Property `json:"property"`
	DistanceKm   float64  `json:"distance_km"`
	WithinRadius bool     `json:"within_radius"`
}
