package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// Consumer drains the event queue and decodes records into Delivery values
// for the gap maintenance engine (C4), tagging each with the kind derived
// from which logical queue (ingest vs deletion) delivered it.
type Consumer struct {
	reader            *kafka.Reader
	deletionQueueARN  string
}

// NewConsumer builds a Consumer reading topic as groupID. deletionQueueARN
// is compared against each record's event source to classify ingest vs
// delete (§6).
func NewConsumer(brokers []string, topic, groupID, deletionQueueARN string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		deletionQueueARN: deletionQueueARN,
	}
}

// envelope mirrors §6's event-queue contract: an outer {Records:[...]} with
// each record's body a stringified {Message: "<stringified inner JSON>"}.
type envelope struct {
	EventSourceARN string `json:"eventSourceARN"`
	MessageID      string `json:"messageId"`
	Body           string `json:"body"`
}

type bodyWrapper struct {
	Message string `json:"Message"`
}

type recordWrapper struct {
	Record Message `json:"record"`
}

// FetchBatch reads up to maxMessages records and decodes them into
// Deliveries. Records whose body cannot be decoded are reported back as
// failed via the returned malformed slice so the caller can fail them
// immediately without attempting to apply anything.
func (c *Consumer) FetchBatch(ctx context.Context, maxMessages int) (deliveries []Delivery, malformed []string, err error) {
	for i := 0; i < maxMessages; i++ {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if i == 0 {
				return nil, nil, fmt.Errorf("eventbus: fetch message: %w", err)
			}

			break
		}

		delivery, decodeErr := c.decode(msg)
		if decodeErr != nil {
			malformed = append(malformed, string(msg.Key))
			continue
		}

		deliveries = append(deliveries, delivery)

		if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
			return deliveries, malformed, fmt.Errorf("eventbus: commit offset: %w", commitErr)
		}
	}

	return deliveries, malformed, nil
}

func (c *Consumer) decode(msg kafka.Message) (Delivery, error) {
	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return Delivery{}, fmt.Errorf("eventbus: decode envelope: %w", err)
	}

	var wrapper bodyWrapper
	if err := json.Unmarshal([]byte(env.Body), &wrapper); err != nil {
		return Delivery{}, fmt.Errorf("eventbus: decode body wrapper: %w", err)
	}

	var rec recordWrapper
	if err := json.Unmarshal([]byte(wrapper.Message), &rec); err != nil {
		return Delivery{}, fmt.Errorf("eventbus: decode record: %w", err)
	}

	kind := gap.EventKindIngest
	if env.EventSourceARN == c.deletionQueueARN {
		kind = gap.EventKindDelete
	}

	return Delivery{
		ID: env.MessageID,
		Event: gap.GranuleEvent{
			CollectionID: rec.Record.CollectionID,
			Begin:        rec.Record.BeginningDateTime,
			End:          rec.Record.EndingDateTime,
			Kind:         kind,
			DeliveryID:   env.MessageID,
		},
	}, nil
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// BatchItemFailures is the response shape the event-queue contract expects
// for partial-batch failure reporting (§6).
type BatchItemFailures struct {
	Failures []ItemFailure `json:"batchItemFailures"`
}

// ItemFailure identifies one failed delivery by its messageId.
type ItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// NewBatchItemFailures builds the response envelope from a set of failed
// delivery ids.
func NewBatchItemFailures(failedIDs []string) BatchItemFailures {
	failures := make([]ItemFailure, 0, len(failedIDs))
	for _, id := range failedIDs {
		failures = append(failures, ItemFailure{ItemIdentifier: id})
	}

	return BatchItemFailures{Failures: failures}
}
