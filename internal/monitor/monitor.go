// Package monitor periodically scans active alerts against property
// locations and notifies affected owners.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pireu2/spotyfire-backend/internal/domain"
	"github.com/pireu2/spotyfire-backend/internal/observability"
)

// maxMatchesPerNotification caps how many alerts a single notification
// bundle carries. The closest ones win.
const maxMatchesPerNotification = 10

// AlertSource lists alerts that are still active.
type AlertSource interface {
	ActiveAlerts(ctx context.Context) ([]domain.Alert, error)
}

// PropertySource lists properties that have a usable center point.
type PropertySource interface {
	PropertiesWithCenter(ctx context.Context) ([]domain.Property, error)
}

// Directory resolves a user ID to a deliverable contact.
type Directory interface {
	Resolve(ctx context.Context, userID string) (domain.Contact, error)
}

// Dispatcher delivers one notification bundle to one user.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, contact domain.Contact, matches []domain.AlertMatch) error
}

// Monitor runs the scan-and-notify loop.
type Monitor struct {
	alerts     AlertSource
	properties PropertySource
	directory  Directory
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	interval   time.Duration
	floorKm    float64
	ready      atomic.Bool
}

// New creates a Monitor. A nil clock means real time.
func New(alerts AlertSource, properties PropertySource, directory Directory, dispatcher Dispatcher,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock,
	interval time.Duration, floorKm float64) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		alerts:     alerts,
		properties: properties,
		directory:  directory,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
		interval:   interval,
		floorKm:    floorKm,
	}
}

// CheckReadiness returns nil once at least one scan cycle has completed.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.ready.Load() {
		return errors.New("monitor has not completed a scan cycle yet")
	}
	return nil
}

// Run scans immediately, then on every tick until the context is cancelled.
// A failed cycle is logged and counted; the loop never stops on it.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("alert monitor started", "interval", m.interval, "floor_km", m.floorKm)
	m.metrics.MonitorRunning.Set(1)
	defer m.metrics.MonitorRunning.Set(0)

	for {
		if err := m.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				m.logger.Info("alert monitor stopping", "reason", ctx.Err())
				return nil
			}
			m.logger.Error("alert scan cycle failed", "error", err)
			m.metrics.MonitorCycleErrors.Inc()
		}

		select {
		case <-ctx.Done():
			m.logger.Info("alert monitor stopping", "reason", ctx.Err())
			return nil
		case <-m.clock.After(m.interval):
		}
	}
}

// runCycle performs one full scan: load alerts, match properties, group by
// owner, resolve contacts, dispatch. Per-user failures are isolated; only a
// failure to load the inputs aborts the cycle.
func (m *Monitor) runCycle(ctx context.Context) error {
	start := m.clock.Now()

	alerts, err := m.alerts.ActiveAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		m.metrics.MonitorCycles.Inc()
		m.metrics.AlertMatches.Observe(0)
		m.ready.Store(true)
		return nil
	}

	properties, err := m.properties.PropertiesWithCenter(ctx)
	if err != nil {
		return err
	}

	matches := m.matchAlerts(alerts, properties)
	m.metrics.AlertMatches.Observe(float64(len(matches)))

	m.notifyOwners(ctx, groupByUser(matches))

	m.metrics.MonitorCycles.Inc()
	m.metrics.MonitorCycleDuration.Observe(m.clock.Since(start).Seconds())
	m.ready.Store(true)
	return nil
}

// matchAlerts pairs every located alert with every property whose center
// falls inside the alert's relevance zone: its own radius or the regional
// floor, whichever is larger.
func (m *Monitor) matchAlerts(alerts []domain.Alert, properties []domain.Property) []domain.AlertMatch {
	var matches []domain.AlertMatch
	for _, alert := range alerts {
		if !alert.HasLocation() {
			continue
		}
		for _, prop := range properties {
			d := domain.DistanceKm(*alert.Lat, *alert.Lng, *prop.CenterLat, *prop.CenterLng)
			d = math.Round(d*100) / 100
			radius := alert.Radius()
			// An alert reaches at least the default radius even when its own
			// radius is narrower; the regional floor widens it further.
			reach := math.Max(radius, domain.DefaultAlertRadiusKm)
			if d > reach && d > m.floorKm {
				continue
			}
			matches = append(matches, domain.AlertMatch{
				Alert:        alert,
				Property:     prop,
				DistanceKm:   d,
				WithinRadius: d <= radius,
			})
		}
	}
	return matches
}

func groupByUser(matches []domain.AlertMatch) map[string][]domain.AlertMatch {
	byUser := make(map[string][]domain.AlertMatch)
	for _, match := range matches {
		byUser[match.Property.UserID] = append(byUser[match.Property.UserID], match)
	}
	return byUser
}

// notifyOwners sends one bundle per affected user, closest alerts first.
// Users whose contact cannot be resolved are skipped, and a dispatch failure
// for one user never blocks the others.
func (m *Monitor) notifyOwners(ctx context.Context, byUser map[string][]domain.AlertMatch) {
	for userID, userMatches := range byUser {
		sort.SliceStable(userMatches, func(i, j int) bool {
			return userMatches[i].DistanceKm < userMatches[j].DistanceKm
		})
		if len(userMatches) > maxMatchesPerNotification {
			userMatches = userMatches[:maxMatchesPerNotification]
		}

		contact, err := m.directory.Resolve(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrContactUnresolved) {
				m.logger.Info("skipping user without deliverable address", "user_id", userID)
			} else {
				m.logger.Warn("contact lookup failed", "user_id", userID, "error", err)
			}
			m.metrics.ContactsUnresolved.Inc()
			continue
		}

		if err := m.dispatcher.Dispatch(ctx, userID, contact, userMatches); err != nil {
			m.logger.Error("notification dispatch failed", "user_id", userID, "error", err)
			m.metrics.NotificationsFailed.Inc()
			continue
		}
		m.metrics.NotificationsSent.Inc()
		m.logger.Info("notification dispatched",
			"user_id", userID,
			"matches", len(userMatches),
			"closest_km", userMatches[0].DistanceKm,
		)
	}
}

// LogDispatcher records bundles in the log instead of delivering them. Used
// when notification delivery is disabled.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Dispatch(_ context.Context, userID string, contact domain.Contact, matches []domain.AlertMatch) error {
	d.Logger.Info("notification suppressed (delivery disabled)",
		"user_id", userID,
		"email", contact.Email,
		"matches", len(matches),
	)
	return nil
}
