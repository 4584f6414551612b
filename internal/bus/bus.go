// Package bus publishes consumer lifecycle status events so operators
// can watch indexing health from the message broker.
package bus

// Status event types emitted by the indexing consumer.
const (
	StatusReady        = "consumer_ready"
	StatusHeartbeat    = "consumer_heartbeat"
	StatusDisconnected = "consumer_disconnected"
)

// Status is one lifecycle record.
type Status struct {
	// Status is one of the consumer_* event types.
	Status string `json:"status"`

	// GroupID is the consumer group the record describes.
	GroupID string `json:"group_id"`

	// ServiceID identifies the emitting process instance.
	ServiceID string `json:"service_id"`

	// Timestamp is the emission instant in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// StatusPublisher sends status records to the broker. Publishing is
// best-effort; callers log failures and move on.
type StatusPublisher interface {
	PublishStatus(status Status) error
	Close() error
}
