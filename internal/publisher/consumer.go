package publisher

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	r "github.com/mostafaomar7/tadawi-checkout/internal/repository"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CompletionConsumer reads order completions published by any gateway instance and
// drops the ordered pharmacy from the patient's cart snapshot, so no instance restores
// lines that already became an order.
type CompletionConsumer struct {
	reader MessageReader
	cache  cache.SnapshotCache
	logger *zap.Logger
}

func NewCompletionConsumer(cfg Config, groupID string, snapshots cache.SnapshotCache, logger *zap.Logger) *CompletionConsumer {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newCompletionConsumer(reader, snapshots, logger)
}

func newCompletionConsumer(reader MessageReader, snapshots cache.SnapshotCache, logger *zap.Logger) *CompletionConsumer {
	return &CompletionConsumer{
		reader: reader,
		cache:  snapshots,
		logger: logger.With(zap.String("component", "completion_consumer")),
	}
}

func (c *CompletionConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.handleNext(ctx)
	}
}

func (c *CompletionConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (c *CompletionConsumer) handleNext(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("error reading message", zap.Error(err))
		}
		return
	}
	if eventType(m) != r.EventOrderCompleted {
		return
	}

	var payload domain.OrderCompleted
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		c.logger.Warn("error parsing message", zap.Error(err))
		return
	}
	if payload.PatientID == "" {
		c.logger.Warn("missing patient_id", zap.ByteString("key", m.Key))
		return
	}

	lines, err := c.cache.Get(ctx, payload.PatientID)
	if errors.Is(err, cache.ErrCacheMiss) {
		return
	}
	if err != nil {
		c.logger.Warn("cache get error", zap.String("patient_id", payload.PatientID), zap.Error(err))
		return
	}
	var kept []domain.CartLine
	for _, l := range lines {
		if l.PharmacyID != payload.PharmacyID {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(lines) {
		return
	}
	if len(kept) == 0 {
		err = c.cache.Delete(ctx, payload.PatientID)
	} else {
		err = c.cache.Set(ctx, payload.PatientID, kept)
	}
	if err != nil {
		c.logger.Warn("failed to update cart snapshot", zap.String("patient_id", payload.PatientID), zap.Error(err))
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
