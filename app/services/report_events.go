package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amirphl/metal-price-sync/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventPriceRunFinalized = "price_run.finalized"

// RunEvent is published once per finalized run. It carries counters and
// outcome only; the detail log stays in the archive.
type RunEvent struct {
	Type       string             `json:"type"`
	RunID      string             `json:"run_id"`
	Trigger    string             `json:"trigger"`
	Outcome    models.RunOutcome  `json:"outcome"`
	DryRun     bool               `json:"dry_run"`
	Currency   string             `json:"currency"`
	Statistics models.RunCounters `json:"statistics"`
	ErrorCount int                `json:"error_count"`
	StartedAt  int64              `json:"started_at"`
	FinishedAt int64              `json:"finished_at"`
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunEventPublisher publishes run events to a kafka topic.
type RunEventPublisher struct {
	writer kafkaMessageWriter
	topic  string
	logger *zap.Logger
}

func NewRunEventPublisher(brokers []string, topic string, logger *zap.Logger) *RunEventPublisher {
	return newRunEventPublisherWith(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, topic, logger)
}

func newRunEventPublisherWith(w kafkaMessageWriter, topic string, logger *zap.Logger) *RunEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunEventPublisher{writer: w, topic: topic, logger: logger}
}

func (p *RunEventPublisher) Name() string { return "events" }

func NewRunEvent(r *models.RunReport) RunEvent {
	return RunEvent{
		Type:       EventPriceRunFinalized,
		RunID:      r.RunID.String(),
		Trigger:    r.Trigger,
		Outcome:    r.Outcome(),
		DryRun:     r.DryRun,
		Currency:   r.Currency,
		Statistics: r.Counters,
		ErrorCount: len(r.Errors),
		StartedAt:  r.StartedAt.Unix(),
		FinishedAt: r.FinishedAt.Unix(),
	}
}

func (p *RunEventPublisher) Deliver(ctx context.Context, report *models.RunReport) error {
	ev := NewRunEvent(report)
	b, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RunID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	p.logger.Debug("run event published", zap.String("topic", p.topic), zap.String("run_id", ev.RunID))
	return nil
}

func (p *RunEventPublisher) Close() error {
	return p.writer.Close()
}
