package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/memsearch/mem-search/internal/bus"
	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/index"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

type fakeQueue struct {
	mu      sync.Mutex
	docs    []index.Document
	addErr  error
	started int
	stopped int
}

func (f *fakeQueue) Add(ctx context.Context, doc index.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeQueue) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeQueue) Stop(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// fakeGroup satisfies sarama.ConsumerGroup; Consume blocks until the
// context is cancelled.
type fakeGroup struct {
	errs chan error
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{errs: make(chan error)}
}

func (f *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeGroup) Errors() <-chan error                 { return f.errs }
func (f *fakeGroup) Close() error                         { return nil }
func (f *fakeGroup) Pause(partitions map[string][]int32)  {}
func (f *fakeGroup) Resume(partitions map[string][]int32) {}
func (f *fakeGroup) PauseAll()                            {}
func (f *fakeGroup) ResumeAll()                           {}

// fakeSession records acked messages.
type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (f *fakeSession) Claims() map[string][]int32 { return nil }
func (f *fakeSession) MemberID() string           { return "member-1" }
func (f *fakeSession) GenerationID() int32        { return 1 }

func (f *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {}

func (f *fakeSession) Commit() {}

func (f *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}

func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, msg)
}

func (f *fakeSession) Context() context.Context { return f.ctx }

func (f *fakeSession) markedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Topic() string                            { return "memory.node.created" }
func (f *fakeClaim) Partition() int32                         { return 0 }
func (f *fakeClaim) InitialOffset() int64                     { return 0 }
func (f *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.messages }

func message(body string, offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "memory.node.created",
		Partition: 0,
		Offset:    offset,
		Value:     []byte(body),
	}
}

func testConfig(heartbeatMs int) config.ConsumerConfig {
	return config.ConsumerConfig{
		KafkaBrokers:        "localhost:9092",
		Topic:               "memory.node.created",
		StatusTopic:         "memory.consumer.status",
		GroupID:             "mem-search-indexer",
		HeartbeatIntervalMs: heartbeatMs,
		FetchBatchSize:      10,
	}
}

func newTestConsumer(queue Queue, status bus.StatusPublisher, heartbeatMs int) *Consumer {
	c := New(testConfig(heartbeatMs), "instance-1", queue, status, logger.Default())
	c.newGroup = func(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error) {
		return newFakeGroup(), nil
	}
	return c
}

func TestParseEvent(t *testing.T) {
	doc, err := parseEvent([]byte(`{
		"id": "m1",
		"content": "remember this",
		"orgId": "o1",
		"sessionId": "s1",
		"type": "observation",
		"metadata": {"source": "chat"}
	}`))
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if doc.Content != "remember this" || doc.OrgID != "o1" {
		t.Errorf("unexpected document: %+v", doc)
	}
	if doc.SessionID != "s1" || doc.Type != "observation" || doc.Metadata["source"] != "chat" {
		t.Errorf("optional fields lost: %+v", doc)
	}

	cases := []string{
		`{"id": "", "content": "x", "orgId": "o1"}`,
		`{"id": "m1", "content": "", "orgId": "o1"}`,
		`{"id": "m1", "content": "x"}`,
		`not json`,
	}
	for _, body := range cases {
		if _, err := parseEvent([]byte(body)); !apperrors.IsCode(err, apperrors.CodeParseError) {
			t.Errorf("parseEvent(%s): expected PARSE_ERROR, got %v", body, err)
		}
	}
}

func TestPointID(t *testing.T) {
	valid := "11111111-1111-1111-1111-111111111111"
	if got := pointID(valid); got != valid {
		t.Errorf("UUID ids must pass through, got %s", got)
	}

	a, b := pointID("mem-node-42"), pointID("mem-node-42")
	if a != b {
		t.Errorf("non-UUID ids must map deterministically: %s vs %s", a, b)
	}
	if a == "mem-node-42" {
		t.Error("non-UUID id must be replaced with a UUID")
	}
	if pointID("mem-node-43") == a {
		t.Error("distinct ids must not collide")
	}
}

func runClaim(t *testing.T, c *Consumer, msgs ...*sarama.ConsumerMessage) *fakeSession {
	t.Helper()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, m := range msgs {
		claim.messages <- m
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	handler := &groupHandler{consumer: c}
	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	return session
}

func TestConsumeClaimAcksEnqueuedMessages(t *testing.T) {
	queue := &fakeQueue{}
	c := newTestConsumer(queue, bus.NewMemoryStatusBus(), 30_000)

	session := runClaim(t, c,
		message(`{"id": "m1", "content": "a", "orgId": "o1"}`, 1),
		message(`{"id": "m2", "content": "b", "orgId": "o1"}`, 2),
	)

	if queue.count() != 2 {
		t.Errorf("enqueued = %d, want 2", queue.count())
	}
	if session.markedCount() != 2 {
		t.Errorf("acked = %d, want 2", session.markedCount())
	}
}

func TestConsumeClaimDropsMalformedEvent(t *testing.T) {
	queue := &fakeQueue{}
	c := newTestConsumer(queue, bus.NewMemoryStatusBus(), 30_000)

	session := runClaim(t, c, message(`{"id": "", "content": "x"}`, 1))

	if queue.count() != 0 {
		t.Error("malformed event must not reach the queue")
	}
	if session.markedCount() != 1 {
		t.Error("poison message must be acked so it is not redelivered")
	}
}

func TestConsumeClaimQueueFullBackpressure(t *testing.T) {
	queue := &fakeQueue{addErr: apperrors.QueueFullError(100)}
	c := newTestConsumer(queue, bus.NewMemoryStatusBus(), 30_000)

	session := runClaim(t, c, message(`{"id": "m1", "content": "a", "orgId": "o1"}`, 1))

	if session.markedCount() != 0 {
		t.Error("queue-full message must stay unacked for redelivery")
	}
}

func TestConsumerLifecycle(t *testing.T) {
	queue := &fakeQueue{}
	status := bus.NewMemoryStatusBus()
	c := newTestConsumer(queue, status, 30_000)

	if c.State() != StateIdle {
		t.Fatalf("initial state = %s", c.State())
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateRunning {
		t.Fatalf("state after start = %s", c.State())
	}
	if queue.started != 1 {
		t.Errorf("queue starts = %d, want 1", queue.started)
	}

	// Re-entry is a no-op.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if queue.started != 1 {
		t.Error("second start must not restart the queue")
	}

	c.Stop(context.Background())
	if c.State() != StateIdle {
		t.Errorf("state after stop = %s", c.State())
	}
	if queue.stopped != 1 {
		t.Errorf("queue stops = %d, want 1 (final drain)", queue.stopped)
	}

	statuses := status.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("status records = %d, want ready + disconnected", len(statuses))
	}
	if statuses[0].Status != bus.StatusReady || statuses[1].Status != bus.StatusDisconnected {
		t.Errorf("unexpected status sequence: %+v", statuses)
	}
	for _, s := range statuses {
		if s.GroupID != "mem-search-indexer" || s.ServiceID != "instance-1" || s.Timestamp == 0 {
			t.Errorf("incomplete status record: %+v", s)
		}
	}
}

func TestConsumerHeartbeat(t *testing.T) {
	queue := &fakeQueue{}
	status := bus.NewMemoryStatusBus()
	c := newTestConsumer(queue, status, 10)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		for _, s := range status.Statuses() {
			if s.Status == bus.StatusHeartbeat {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("no heartbeat emitted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
