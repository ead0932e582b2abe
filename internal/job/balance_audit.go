package job

import (
	"context"
	"errors"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/internal/service"

	"gorm.io/gorm"
)

// BalanceAuditJob 定期重新聚合所有用户余额，发现负余额或未知状态的订单就告警。
// 只告警，不修正数据
type BalanceAuditJob struct {
	ledger       *service.LedgerService
	userRepo     *repository.UserRepository
	serviceRepo  *repository.ServiceOrderRepository
	purchaseRepo *repository.PurchaseOrderRepository
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
}

// AuditReport 一轮巡检的结果
type AuditReport struct {
	UsersChecked     int
	NegativeBalances int
	UnknownStatuses  int64
}

func NewBalanceAuditJob(db *gorm.DB, ledger *service.LedgerService) *BalanceAuditJob {
	return &BalanceAuditJob{
		ledger:       ledger,
		userRepo:     repository.NewUserRepository(db),
		serviceRepo:  repository.NewServiceOrderRepository(db),
		purchaseRepo: repository.NewPurchaseOrderRepository(db),
		stopCh:       make(chan struct{}),
		interval:     10 * time.Minute,
		batchSize:    200,
	}
}

func (j *BalanceAuditJob) Start(ctx context.Context) {
	logger.Info("余额巡检任务启动", "worker", "BalanceAudit")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("收到停止信号，任务退出", "worker", "BalanceAudit")
			return
		case <-j.stopCh:
			logger.Info("任务停止", "worker", "BalanceAudit")
			return
		case <-ticker.C:
			report, err := j.audit(ctx)
			logger.WorkerLog("BalanceAudit", "audit", err,
				"users", report.UsersChecked, "negative", report.NegativeBalances, "unknown_status", report.UnknownStatuses)
		}
	}
}

func (j *BalanceAuditJob) Stop() {
	close(j.stopCh)
}

func (j *BalanceAuditJob) audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport

	unknownService, err := j.serviceRepo.CountUnknownStatus(ctx)
	if err != nil {
		return report, err
	}
	unknownPurchase, err := j.purchaseRepo.CountUnknownStatus(ctx)
	if err != nil {
		return report, err
	}
	report.UnknownStatuses = unknownService + unknownPurchase
	if report.UnknownStatuses > 0 {
		logger.IntegrityAlarm(ctx, "unknown_order_status",
			"service_orders", unknownService, "purchase_orders", unknownPurchase)
	}

	var afterID int64
	for {
		ids, err := j.userRepo.ListIDs(ctx, afterID, j.batchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			return report, nil
		}

		for _, userID := range ids {
			report.UsersChecked++
			for _, category := range model.AllCategories {
				_, err := j.ledger.Balance(ctx, userID, category)
				if errors.Is(err, service.ErrConsistencyViolation) {
					// 告警已在账本内记录
					report.NegativeBalances++
					continue
				}
				if err != nil {
					return report, err
				}
			}
		}
		afterID = ids[len(ids)-1]

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
	}
}
