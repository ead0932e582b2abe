package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"

	"gorm.io/gorm"
)

// eventRecorder 在业务事务内写 outbox，由 OutboxSender 异步投递
type eventRecorder struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func newEventRecorder(db *gorm.DB, topic string) *eventRecorder {
	return &eventRecorder{
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      topic,
	}
}

func (r *eventRecorder) record(ctx context.Context, tx *gorm.DB, orderNo, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["order_no"] = orderNo
	payload["event_type"] = eventType
	payload["occurred_at"] = time.Now().Format(time.RFC3339)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return r.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: orderNo,
		EventType:  eventType,
		Topic:      r.topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	})
}
