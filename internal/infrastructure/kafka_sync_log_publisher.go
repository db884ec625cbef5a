package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"affsync/internal/domain"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSyncLogPublisher streams sync outcomes, keyed by connection id so
// one connection's logs stay ordered within a partition.
type KafkaSyncLogPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaSyncLogPublisher(brokers []string, topic string) (*KafkaSyncLogPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &KafkaSyncLogPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (p *KafkaSyncLogPublisher) Write(ctx context.Context, log domain.SyncLog) error {
	msg, err := syncLogMessage(p.topic, log)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish sync log: %w", err)
	}
	return nil
}

func (p *KafkaSyncLogPublisher) Close() error {
	return p.writer.Close()
}

func syncLogMessage(topic string, log domain.SyncLog) (kafka.Message, error) {
	payload, err := json.Marshal(log)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal sync log: %w", err)
	}
	at := log.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(log.ConnectionID),
		Value: payload,
		Time:  at.UTC(),
		Headers: []kafka.Header{
			{Key: "network", Value: []byte(log.Network)},
			{Key: "status", Value: []byte(log.Status)},
		},
	}, nil
}
