// Package kafka publishes alert notification bundles for downstream
// delivery workers (email, push).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/pireu2/spotyfire-backend/internal/config"
	"github.com/pireu2/spotyfire-backend/internal/domain"
)

// Notifier produces one message per notified user to the notifications topic.
// It implements monitor.Dispatcher.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured notifications topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaNotificationsTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// Dispatch serializes the user's alert bundle and publishes it keyed by user
// ID, so one consumer partition sees each user's notifications in order.
func (n *Notifier) Dispatch(ctx context.Context, userID string, contact domain.Contact, matches []domain.AlertMatch) error {
	msg, err := serializeBundle(userID, contact, matches)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, msg)
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeBundle marshals a notification bundle into a Kafka message.
func serializeBundle(userID string, contact domain.Contact, matches []domain.AlertMatch) (kafkago.Message, error) {
	bundle := notificationBundle{
		UserID:      userID,
		Email:       contact.Email,
		Name:        contact.Name,
		GeneratedAt: domain.Now().UTC(),
		Alerts:      make([]notificationAlert, len(matches)),
	}
	for i, match := range matches {
		bundle.Alerts[i] = notificationAlert{
			AlertID:      match.Alert.ID.String(),
			Type:         string(match.Alert.Type),
			Severity:     string(match.Alert.Severity),
			Message:      match.Alert.Message,
			Sector:       match.Alert.Sector,
			PropertyID:   match.Property.ID.String(),
			PropertyName: match.Property.Name,
			DistanceKm:   match.DistanceKm,
			WithinRadius: match.WithinRadius,
		}
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification bundle: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(userID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "alert_count", Value: []byte(fmt.Sprintf("%d", len(matches)))},
			{Key: "generated_at", Value: []byte(bundle.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}

// Wire types consumed by the delivery workers.

type notificationBundle struct {
	UserID      string              `json:"user_id"`
	Email       string              `json:"email"`
	Name        string              `json:"name"`
	GeneratedAt time.Time           `json:"generated_at"`
	Alerts      []notificationAlert `json:"alerts"`
}

type notificationAlert struct {
	AlertID      string  `json:"alert_id"`
	Type         string  `json:"type"`
	Severity     string  `json:"severity"`
	Message      string  `json:"message"`
	Sector       string  `json:"sector"`
	PropertyID   string  `json:"property_id"`
	PropertyName string  `json:"property_name"`
	DistanceKm   float64 `json:"distance_km"`
	WithinRadius bool    `json:"within_radius"`
}
