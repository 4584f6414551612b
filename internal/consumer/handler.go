package consumer

import (
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/memsearch/mem-search/internal/index"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// memoryEvent is the wire schema on the memory creation topic.
type memoryEvent struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	OrgID     string         `json:"orgId"`
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	CreatedAt int64          `json:"createdAtMs"`
	Metadata  map[string]any `json:"metadata"`
}

// parseEvent decodes one message body into a document. id, content,
// and orgId are required; anything failing here is poison and gets
// acked without indexing.
func parseEvent(data []byte) (index.Document, error) {
	var event memoryEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return index.Document{}, apperrors.Wrap(apperrors.CodeParseError, "malformed event body", err)
	}

	if event.ID == "" || event.Content == "" {
		return index.Document{}, apperrors.ParseError("event requires non-empty id and content")
	}
	if event.OrgID == "" {
		return index.Document{}, apperrors.ParseError("event requires a tenant id")
	}

	return index.Document{
		ID:          pointID(event.ID),
		Content:     event.Content,
		OrgID:       event.OrgID,
		SessionID:   event.SessionID,
		Type:        event.Type,
		CreatedAtMs: event.CreatedAt,
		Metadata:    event.Metadata,
	}, nil
}

// pointID normalizes an event id into a store point id. The store
// requires UUID ids; non-UUID ids map deterministically so redelivered
// events upsert the same point.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// groupHandler implements sarama.ConsumerGroupHandler for the fetch
// loop.
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition's message stream. A message is
// marked consumed only when its document entered the queue, or when it
// is poison; a full queue leaves the offset unmarked so the broker
// redelivers.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			doc, err := parseEvent(msg.Value)
			if err != nil {
				c.log.WithError(err).Warn("dropping malformed event",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset)
				session.MarkMessage(msg, "")
				continue
			}

			if err := c.queue.Add(session.Context(), doc); err != nil {
				if apperrors.IsQueueFull(err) {
					c.log.Warn("queue full, leaving message unacked",
						"document_id", doc.ID,
						"offset", msg.Offset)
					continue
				}
				c.log.WithError(err).Error("failed to enqueue document", "document_id", doc.ID)
				continue
			}

			session.MarkMessage(msg, "")
		}
	}
}
