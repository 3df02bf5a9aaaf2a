package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	r "github.com/mostafaomar7/tadawi-checkout/internal/repository"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type MockRepository struct {
	mu           sync.Mutex
	OutboxEvents []*r.OutboxEvent
	GetErr       error
	MarkErr      error
	ProcessedIDs []int64
}

func (m *MockRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []*r.OutboxEvent
	for _, ev := range m.OutboxEvents {
		if !m.processedLocked(ev.ID) && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.ProcessedIDs = append(m.ProcessedIDs, id)
	return nil
}

func (m *MockRepository) processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.ProcessedIDs...)
}

func (m *MockRepository) processedLocked(id int64) bool {
	for _, p := range m.ProcessedIDs {
		if p == id {
			return true
		}
	}
	return false
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	failKey  string
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if w.failKey != "" && string(m.Key) == w.failKey {
			return errors.New("leader not available")
		}
		w.messages = append(w.messages, m)
	}
	return nil
}

func (w *mockWriter) Close() error { return nil }

func testEvents() []*r.OutboxEvent {
	return []*r.OutboxEvent{
		{
			ID:          1,
			AggregateId: "attempt-1",
			EventType:   r.EventCaptureWithoutOrder,
			Payload:     json.RawMessage(`{"transaction_id":"TX-1","patient_id":"patient-1"}`),
			CreatedAt:   time.Now(),
		},
		{
			ID:          2,
			AggregateId: "attempt-2",
			EventType:   r.EventOrderCompleted,
			Payload:     json.RawMessage(`{"order_id":"981","patient_id":"patient-1","pharmacy_id":3}`),
			CreatedAt:   time.Now(),
		},
	}
}

func TestProcessUnpublishedEvents(t *testing.T) {
	repo := &MockRepository{OutboxEvents: testEvents()}
	w := &mockWriter{}
	p := newOutboxPoller(repo, w, Config{}, zap.NewNop())

	assert.Equal(t, 2, p.processUnpublishedEvents(context.Background()))
	assert.Equal(t, []int64{1, 2}, repo.processed())

	require.Len(t, w.messages, 2)
	msg := w.messages[0]
	assert.Equal(t, "attempt-1", string(msg.Key))
	assert.Equal(t, []kafkaGo.Header{{Key: "event_type", Value: []byte(r.EventCaptureWithoutOrder)}}, msg.Headers)
	assert.JSONEq(t, `{"transaction_id":"TX-1","patient_id":"patient-1"}`, string(msg.Value))

	assert.Zero(t, p.processUnpublishedEvents(context.Background()), "nothing left to relay")
}

func TestProcessUnpublishedEvents_WriteFailureStopsBatch(t *testing.T) {
	repo := &MockRepository{OutboxEvents: testEvents()}
	w := &mockWriter{failKey: "attempt-1"}
	p := newOutboxPoller(repo, w, Config{}, zap.NewNop())

	assert.Zero(t, p.processUnpublishedEvents(context.Background()))
	assert.Empty(t, repo.processed(), "unpublished events stay in the outbox")
	assert.Empty(t, w.messages)

	w.failKey = ""
	assert.Equal(t, 2, p.processUnpublishedEvents(context.Background()))
}

func TestProcessUnpublishedEvents_RepositoryErrors(t *testing.T) {
	w := &mockWriter{}

	p := newOutboxPoller(&MockRepository{GetErr: errors.New("database connection error")}, w, Config{}, zap.NewNop())
	assert.Zero(t, p.processUnpublishedEvents(context.Background()))

	repo := &MockRepository{OutboxEvents: testEvents(), MarkErr: errors.New("database deadlock")}
	p = newOutboxPoller(repo, w, Config{}, zap.NewNop())
	assert.Zero(t, p.processUnpublishedEvents(context.Background()))
	assert.Len(t, w.messages, 2, "published again on the next tick; consumers see duplicates")
}

func TestOutboxPoller_RunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	repo := &MockRepository{OutboxEvents: testEvents()}
	p := newOutboxPoller(repo, &mockWriter{}, Config{Interval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(repo.processed()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, DefaultTopic)
	time.Sleep(5 * time.Second)

	repo := &MockRepository{OutboxEvents: testEvents()[:1]}
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        DefaultTopic,
		Balancer:     &kafkaGo.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	defer writer.Close()

	p := newOutboxPoller(repo, writer, Config{Interval: time.Second}, zap.NewNop())
	p.timeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go p.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    DefaultTopic,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "attempt-1", string(msg.Key))
	assert.Equal(t, r.EventCaptureWithoutOrder, eventType(msg))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "TX-1", payload["transaction_id"])

	require.Eventually(t, func() bool { return len(repo.processed()) == 1 }, 5*time.Second, 100*time.Millisecond)
}
