package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseURL string

	// Alert proximity monitor.
	MonitorInterval  time.Duration
	ProximityFloorKm float64

	// Change-detection estimator.
	DefaultCostPerHa     float64
	ChangeRatioThreshold float64
	AnalysisTimeout      time.Duration

	// Remote imagery service.
	EEKeyPath     string
	EEBaseURL     string
	EEServiceArea string
	EETimeout     time.Duration

	// NASA FIRMS hotspot feed.
	FIRMSAPIKey  string
	FIRMSSource  string
	FIRMSBaseURL string
	FIRMSTimeout time.Duration

	// Stack Auth user directory.
	StackProjectID       string
	StackSecretServerKey string
	StackBaseURL         string
	StackTimeout         time.Duration

	// Notification dispatch.
	KafkaBrokers            []string
	KafkaNotificationsTopic string
	NotificationsEnabled    bool
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	monitorInterval, err := envDuration("MONITOR_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	analysisTimeout, err := envDuration("ANALYSIS_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	eeTimeout, err := envDuration("EE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	firmsTimeout, err := envDuration("FIRMS_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	stackTimeout, err := envDuration("STACK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	floorKm, err := envFloat("PROXIMITY_FLOOR_KM", 20.0)
	if err != nil {
		return nil, err
	}
	costPerHa, err := envFloat("DEFAULT_COST_PER_HA", 5000.0)
	if err != nil {
		return nil, err
	}
	ratio, err := envFloat("CHANGE_RATIO_THRESHOLD", 1.3)
	if err != nil {
		return nil, err
	}

	notificationsEnabled := true
	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		notificationsEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseURL: os.Getenv("DATABASE_URL"),

		MonitorInterval:  monitorInterval,
		ProximityFloorKm: floorKm,

		DefaultCostPerHa:     costPerHa,
		ChangeRatioThreshold: ratio,
		AnalysisTimeout:      analysisTimeout,

		EEKeyPath:     envOrDefault("EE_KEY_PATH", ".private-key.json"),
		EEBaseURL:     envOrDefault("EE_BASE_URL", "https://earthengine.googleapis.com"),
		EEServiceArea: envOrDefault("EE_SERVICE_AREA", "Romania"),
		EETimeout:     eeTimeout,

		FIRMSAPIKey:  os.Getenv("FIRMS_API_KEY"),
		FIRMSSource:  envOrDefault("FIRMS_SOURCE", "VIIRS_SNPP_NRT"),
		FIRMSBaseURL: envOrDefault("FIRMS_BASE_URL", "https://firms.modaps.eosdis.nasa.gov"),
		FIRMSTimeout: firmsTimeout,

		StackProjectID:       os.Getenv("STACK_PROJECT_ID"),
		StackSecretServerKey: os.Getenv("STACK_SECRET_SERVER_KEY"),
		StackBaseURL:         envOrDefault("STACK_BASE_URL", "https://api.stack-auth.com"),
		StackTimeout:         stackTimeout,

		KafkaBrokers:            parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaNotificationsTopic: envOrDefault("KAFKA_NOTIFICATIONS_TOPIC", "alert-notifications"),
		NotificationsEnabled:    notificationsEnabled,
	}

	if cfg.MonitorInterval <= 0 {
		return nil, errors.New("MONITOR_INTERVAL must be positive")
	}
	if cfg.ProximityFloorKm < 0 {
		return nil, errors.New("PROXIMITY_FLOOR_KM must not be negative")
	}
	if cfg.ChangeRatioThreshold <= 0 {
		return nil, errors.New("CHANGE_RATIO_THRESHOLD must be positive")
	}
	if cfg.DefaultCostPerHa < 0 {
		return nil, errors.New("DEFAULT_COST_PER_HA must not be negative")
	}
	if cfg.NotificationsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when notifications are enabled")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
