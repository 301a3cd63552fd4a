// Package storage persists parcels, analyses, and alerts in Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pireu2/spotyfire-backend/internal/domain"
)

// Connect opens the Postgres pool. Pool sizing assumes a single service
// instance in front of a managed database.
func Connect(databaseURL string) (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted entities.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Geometry{},
		&domain.Property{},
		&domain.SatelliteAnalysis{},
		&domain.Alert{},
	)
}

// Store is the query layer over the Postgres pool. It implements the
// monitor's alert and property sources.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ActiveAlerts lists alerts that have not been dismissed.
func (s *Store) ActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
	var alerts []domain.Alert
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return alerts, nil
}

// PropertiesWithCenter lists parcels that carry a center coordinate, the
// only ones distance checks can cover.
func (s *Store) PropertiesWithCenter(ctx context.Context) ([]domain.Property, error) {
	var properties []domain.Property
	err := s.db.WithContext(ctx).
		Where("center_lat IS NOT NULL AND center_lng IS NOT NULL").
		Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("list located properties: %w", err)
	}
	return properties, nil
}

// PropertiesForUser lists all parcels owned by userID.
func (s *Store) PropertiesForUser(ctx context.Context, userID string) ([]domain.Property, error) {
	var properties []domain.Property
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&properties).Error; err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return properties, nil
}

// PropertyForUser fetches one parcel, enforcing ownership.
func (s *Store) PropertyForUser(ctx context.Context, userID string, propertyID uuid.UUID) (domain.Property, error) {
	var property domain.Property
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", propertyID, userID).
		First(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Property{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Property{}, fmt.Errorf("fetch property: %w", err)
	}
	return property, nil
}

// GeometryByID fetches a stored parcel geometry.
func (s *Store) GeometryByID(ctx context.Context, id uuid.UUID) (domain.Geometry, error) {
	var geometry domain.Geometry
	err := s.db.WithContext(ctx).First(&geometry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Geometry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("fetch geometry: %w", err)
	}
	return geometry, nil
}

// CreateAnalysis records one estimator run.
func (s *Store) CreateAnalysis(ctx context.Context, analysis *domain.SatelliteAnalysis) error {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = domain.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(analysis).Error; err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

// AnalysesForProperty lists a parcel's analysis history, newest first.
func (s *Store) AnalysesForProperty(ctx context.Context, propertyID uuid.UUID) ([]domain.SatelliteAnalysis, error) {
	var analyses []domain.SatelliteAnalysis
	err := s.db.WithContext(ctx).
		Where("property_id = ?", propertyID).
		Order("created_at DESC").
		Find(&analyses).Error
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return analyses, nil
}

// AnalysisByID fetches one analysis record.
func (s *Store) AnalysisByID(ctx context.Context, id uuid.UUID) (domain.SatelliteAnalysis, error) {
	var analysis domain.SatelliteAnalysis
	err := s.db.WithContext(ctx).First(&analysis, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SatelliteAnalysis{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SatelliteAnalysis{}, fmt.Errorf("fetch analysis: %w", err)
	}
	return analysis, nil
}

// MarkAnalysed stamps a parcel with its latest analysis outcome.
func (s *Store) MarkAnalysed(ctx context.Context, propertyID uuid.UUID, riskScore float64) error {
	now := domain.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&domain.Property{}).
		Where("id = ?", propertyID).
		Updates(map[string]any{
			"risk_score":       riskScore,
			"last_analysed_at": now,
			"updated_at":       now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark property analysed: %w", err)
	}
	return nil
}

// DeactivateAlert dismisses an alert. The record stays for history.
func (s *Store) DeactivateAlert(ctx context.Context, alertID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND is_active = ?", alertID, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": domain.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("deactivate alert: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
