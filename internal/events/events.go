package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/denisok6893-rgb/estate-matching/internal/domain"
)

type EventType string

const (
	// EventMatchesDiscovered is emitted after a discovery run is stored.
	EventMatchesDiscovered EventType = "matches.discovered"
	// EventMatchStatusChanged is emitted when a match moves along its lifecycle.
	EventMatchStatusChanged EventType = "match.status_changed"
)

type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Key       string          `json:"-"`
	Data      json.RawMessage `json:"data"`
}

type MatchesDiscoveredData struct {
	RunID    string         `json:"run_id"`
	MinScore int            `json:"min_score"`
	Count    int            `json:"count"`
	Matches  []domain.Match `json:"matches"`
}

type MatchStatusChangedData struct {
	MatchID    string             `json:"match_id"`
	PropertyID string             `json:"property_id"`
	ProspectID string             `json:"prospect_id"`
	From       domain.MatchStatus `json:"from"`
	To         domain.MatchStatus `json:"to"`
}

// NewEvent builds an event with data encoded as JSON.
func NewEvent(t EventType, key string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Event{Type: t, Timestamp: time.Now().UTC(), Key: key, Data: raw}, nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		MaxAttempts:            cfg.MaxAttempts,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops every event. Used when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }
