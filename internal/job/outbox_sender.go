package job

import (
	"context"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"

	"gorm.io/gorm"
)

// Publisher 消息投递，生产环境为 mq.Producer
type Publisher interface {
	Publish(topic, key, eventType, value string) error
}

// OutboxSender 把 outbox 中的订单事件投递到 Kafka，至少一次
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Info("消息发送任务启动", "worker", "OutboxSender")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("收到停止信号，任务退出", "worker", "OutboxSender")
			return
		case <-s.stopCh:
			logger.Info("任务停止", "worker", "OutboxSender")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 返回本批投递成功的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.WorkerLog("OutboxSender", "query_pending", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.EventType, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			logger.WorkerLog("OutboxSender", "mark_sent", updateErr, "id", msg.ID)
			return false
		}
		logger.Debug("消息发送成功", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey, "event_type", msg.EventType)
		return true
	}

	logger.WorkerLog("OutboxSender", "publish", err, "id", msg.ID, "key", msg.MessageKey)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.WorkerLog("OutboxSender", "increment_retry", err, "id", msg.ID)
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.WorkerLog("OutboxSender", "mark_failed", err, "id", msg.ID)
		} else {
			logger.Warn("消息超过最大重试次数，标记为失败", "id", msg.ID, "key", msg.MessageKey)
		}
	}
	return false
}
