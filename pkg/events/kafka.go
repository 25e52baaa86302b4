package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/nftsettle/pkg/ledger"
)

// KafkaProducer writes one message per event. Messages are keyed by the
// emitting contract so a consumer sees each contract's events in order.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaProducer) Publish(ctx context.Context, height uint64, evs []ledger.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs, err := toMessages(height, evs)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d events at height %d: %w", len(msgs), height, err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

func toMessages(height uint64, evs []ledger.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(evs))
	for i, ev := range evs {
		value, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event %s: %w", ev.Name, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Contract.Hex()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(ev.Name)},
				{Key: "height", Value: []byte(strconv.FormatUint(height, 10))},
				{Key: "index", Value: []byte(strconv.Itoa(i))},
			},
		})
	}
	return msgs, nil
}
