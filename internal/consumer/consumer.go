// Package consumer subscribes to memory creation events and feeds them
// through the batch queue into the indexer. Delivery is at-least-once;
// a message is acknowledged only after the queue accepted its document.
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/memsearch/mem-search/internal/bus"
	"github.com/memsearch/mem-search/internal/config"
	"github.com/memsearch/mem-search/internal/index"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

// State is the consumer lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Queue is the buffering capability the consumer hands documents to.
type Queue interface {
	Add(ctx context.Context, doc index.Document) error
	Start()
	Stop(ctx context.Context)
}

// Consumer runs a durable subscription on the memory event topic.
type Consumer struct {
	cfg       config.ConsumerConfig
	queue     Queue
	status    bus.StatusPublisher
	log       *logger.Logger
	serviceID string

	mu     sync.Mutex
	state  State
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	wg     sync.WaitGroup

	newGroup func(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)
	now      func() time.Time
}

// New creates a stopped consumer. serviceID names this process instance
// in status records.
func New(cfg config.ConsumerConfig, serviceID string, queue Queue, status bus.StatusPublisher, log *logger.Logger) *Consumer {
	if cfg.HeartbeatIntervalMs <= 0 {
		cfg.HeartbeatIntervalMs = 30_000
	}
	if cfg.FetchBatchSize <= 0 {
		cfg.FetchBatchSize = 10
	}

	return &Consumer{
		cfg:       cfg,
		queue:     queue,
		status:    status,
		log:       log.WithComponent("consumer"),
		serviceID: serviceID,
		state:     StateIdle,
		newGroup:  sarama.NewConsumerGroup,
		now:       time.Now,
	}
}

// State reports the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start creates the subscription, starts the batch queue, and launches
// the fetch and heartbeat loops. Calling Start on a running consumer
// is a logged no-op.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.log.Warn("start ignored", "state", string(c.state))
		return nil
	}
	c.state = StateStarting
	c.mu.Unlock()

	group, err := c.newGroup(c.cfg.KafkaBrokerList(), c.cfg.GroupID, c.saramaConfig())
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return apperrors.Wrap(apperrors.CodeUnavailable, "failed to join consumer group", err)
	}

	c.queue.Start()
	c.publishStatus(bus.StatusReady)

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.group = group
	c.cancel = cancel
	c.state = StateRunning
	c.mu.Unlock()

	c.wg.Add(2)
	go c.consumeLoop(runCtx, group)
	go c.heartbeatLoop(runCtx)

	c.log.Info("consumer started",
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
		"service_id", c.serviceID)
	return nil
}

// Stop cancels the loops, drains the batch queue, closes the
// subscription, and emits a disconnect record.
func (c *Consumer) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	cancel, group := c.cancel, c.group
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	c.queue.Stop(ctx)

	if err := group.Close(); err != nil {
		c.log.WithError(err).Warn("error closing consumer group")
	}

	c.publishStatus(bus.StatusDisconnected)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.log.Info("consumer stopped")
}

func (c *Consumer) saramaConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.ClientID = c.serviceID
	kafkaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true
	kafkaConfig.ChannelBufferSize = c.cfg.FetchBatchSize
	kafkaConfig.Net.DialTimeout = 10 * time.Second
	return kafkaConfig
}

// consumeLoop keeps the group session alive across rebalances until
// cancellation.
func (c *Consumer) consumeLoop(ctx context.Context, group sarama.ConsumerGroup) {
	defer c.wg.Done()

	handler := &groupHandler{consumer: c}
	for {
		if ctx.Err() != nil {
			return
		}

		// Consume blocks for the whole session and returns on rebalance.
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Error("consumer session failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// heartbeatLoop publishes liveness records until cancellation.
func (c *Consumer) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := time.Duration(c.cfg.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStatus(bus.StatusHeartbeat)
		}
	}
}

// publishStatus emits one lifecycle record. Failures are logged and
// ignored; status is observability, not correctness.
func (c *Consumer) publishStatus(statusType string) {
	record := bus.Status{
		Status:    statusType,
		GroupID:   c.cfg.GroupID,
		ServiceID: c.serviceID,
		Timestamp: c.now().UnixMilli(),
	}
	if err := c.status.PublishStatus(record); err != nil {
		c.log.WithError(err).Warn("status publish failed", "status", statusType)
	}
}
