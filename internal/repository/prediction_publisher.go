package repository

import (
	"context"
	"time"

	"SE3Price/internal/domain/models"
	pkgkafka "SE3Price/pkg/kafka"
)

type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaPredictionPublisher sends one message per prediction, keyed by the
// hour it is for.
type KafkaPredictionPublisher struct {
	producer batchProducer
	topic    string
	loc      *time.Location
}

func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string, loc *time.Location) *KafkaPredictionPublisher {
	return newKafkaPredictionPublisher(producer, topic, loc)
}

func newKafkaPredictionPublisher(p batchProducer, topic string, loc *time.Location) *KafkaPredictionPublisher {
	if loc == nil {
		loc = time.UTC
	}
	return &KafkaPredictionPublisher{producer: p, topic: topic, loc: loc}
}

func (p *KafkaPredictionPublisher) PublishPredictions(ctx context.Context, records []models.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(records))
	for i, r := range records {
		r.Timestamp = r.Timestamp.In(p.loc)
		msgs[i] = pkgkafka.Message{
			Key:   []byte(r.Timestamp.Format(time.RFC3339)),
			Value: r,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
