package job

import (
	"context"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/service"
)

// PurchaseExpiryJob 关闭长时间未确认的充值订单，pending 订单不计入余额，关闭不影响账本
type PurchaseExpiryJob struct {
	purchaseService *service.PurchaseService
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
	now             func() time.Time
}

func NewPurchaseExpiryJob(purchaseService *service.PurchaseService, cfg *config.Config) *PurchaseExpiryJob {
	return &PurchaseExpiryJob{
		purchaseService: purchaseService,
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        time.Minute,
		batchSize:       100,
		now:             time.Now,
	}
}

func (j *PurchaseExpiryJob) Start(ctx context.Context) {
	logger.Info("充值订单超时任务启动", "worker", "PurchaseExpiry")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("收到停止信号，任务退出", "worker", "PurchaseExpiry")
			return
		case <-j.stopCh:
			logger.Info("任务停止", "worker", "PurchaseExpiry")
			return
		case <-ticker.C:
			j.expireStalePurchases(ctx)
		}
	}
}

func (j *PurchaseExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PurchaseExpiryJob) expireStalePurchases(ctx context.Context) int {
	if j.cfg.Business.PurchaseExpireHours <= 0 {
		return 0
	}
	before := j.now().Add(-time.Duration(j.cfg.Business.PurchaseExpireHours) * time.Hour)

	closed, err := j.purchaseService.ExpireStale(ctx, before, j.batchSize)
	if err != nil {
		logger.WorkerLog("PurchaseExpiry", "expire_stale", err)
		return 0
	}
	if closed > 0 {
		logger.WorkerLog("PurchaseExpiry", "expire_stale", nil, "closed", closed)
	}
	return closed
}
