// Package eventbus wraps the durable event queue that C3 produces onto and
// C4 consumes from. The teacher's go.mod declares segmentio/kafka-go but
// never calls it; this package is its first real caller.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

const publishBatchSize = 10

// Message is the wire shape of one event-queue record, matching the
// envelope §6 describes: {collectionId, beginningDateTime, endingDateTime}.
type Message struct {
	CollectionID      string    `json:"collectionId"`
	BeginningDateTime time.Time `json:"beginningDateTime"`
	EndingDateTime    time.Time `json:"endingDateTime"`
}

// Producer publishes granule-coverage messages in batches of up to 10
// (§4.3 step 4), wrapped in the same envelope/body/record nesting
// Consumer.decode expects, so a message round-trips through the queue
// regardless of which side wrote it.
type Producer struct {
	writer         *kafka.Writer
	eventSourceARN string
}

// NewProducer builds a Producer targeting topic on the given brokers.
// eventSourceARN is stamped onto every published envelope; backfill always
// publishes coverage (not deletion) events, so this is ordinarily the
// ingest queue's ARN, causing Consumer to classify them as ingest.
func NewProducer(brokers []string, topic, eventSourceARN string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			BatchSize:    publishBatchSize,
			RequiredAcks: kafka.RequireOne,
		},
		eventSourceARN: eventSourceARN,
	}
}

// Publish writes granules in batches of up to 10, per §4.3 step 4.
func (p *Producer) Publish(ctx context.Context, collectionID string, granules []Granule) error {
	for start := 0; start < len(granules); start += publishBatchSize {
		end := start + publishBatchSize
		if end > len(granules) {
			end = len(granules)
		}

		batch := make([]kafka.Message, 0, end-start)

		for _, g := range granules[start:end] {
			body, err := p.encode(collectionID, g)
			if err != nil {
				return err
			}

			batch = append(batch, kafka.Message{Key: []byte(collectionID), Value: body})
		}

		if err := p.writer.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("eventbus: publish batch: %w", err)
		}
	}

	return nil
}

func (p *Producer) encode(collectionID string, g Granule) ([]byte, error) {
	record, err := json.Marshal(recordWrapper{Record: Message{
		CollectionID:      collectionID,
		BeginningDateTime: g.Begin,
		EndingDateTime:    g.End,
	}})
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal record: %w", err)
	}

	wrapped, err := json.Marshal(bodyWrapper{Message: string(record)})
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal body wrapper: %w", err)
	}

	env, err := json.Marshal(envelope{
		EventSourceARN: p.eventSourceARN,
		MessageID:      uuid.New().String(),
		Body:           string(wrapped),
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal envelope: %w", err)
	}

	return env, nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Granule is the minimal shape Publish needs from a catalog.Granule,
// kept local to avoid an import cycle between eventbus and catalog.
type Granule struct {
	Begin time.Time
	End   time.Time
}

// Delivery pairs a decoded granule event with its queue delivery id, so the
// consuming batch handler can report per-message failures (§4.4.1,
// "batchItemFailures").
type Delivery struct {
	ID    string
	Event gap.GranuleEvent
}
