package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/kirinyoku/tix-gate/internal/domain"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	RetryMax     int
	RequiredAcks int
}

func NewSyncProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	const op = "events.NewSyncProducer"

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaCfg.Producer.Retry.Max = cfg.RetryMax
	saramaCfg.Producer.Return.Successes = true

	prod, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return prod, nil
}

type KafkaPublisher struct {
	prod  sarama.SyncProducer
	topic string
}

func NewKafkaPublisher(prod sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{prod: prod, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish keys messages by event name so one event's tickets keep their
// order within a partition.
func (p *KafkaPublisher) Publish(_ context.Context, ev domain.TicketEvent) error {
	const op = "events.KafkaPublisher.Publish"

	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.EventName),
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
			{Key: []byte("timestamp"), Value: []byte(ev.At.UTC().Format(time.RFC3339))},
		},
	}

	if _, _, err := p.prod.SendMessage(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.prod.Close()
}
