package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/pkg/idgen"

	"gorm.io/gorm"
)

type PurchaseService struct {
	db           *gorm.DB
	cfg          *config.Config
	reconciler   *auth.RoleReconciler
	purchaseRepo *repository.PurchaseOrderRepository
	packageRepo  *repository.PackageRepository
	events       *eventRecorder
	newOrderNo   func() string
}

func NewPurchaseService(db *gorm.DB, cfg *config.Config, reconciler *auth.RoleReconciler) *PurchaseService {
	return &PurchaseService{
		db:           db,
		cfg:          cfg,
		reconciler:   reconciler,
		purchaseRepo: repository.NewPurchaseOrderRepository(db),
		packageRepo:  repository.NewPackageRepository(db),
		events:       newEventRecorder(db, cfg.Kafka.Topic.OrderEvents),
		newOrderNo:   idgen.GeneratePurchaseOrderNo,
	}
}

type CreatePurchaseRequest struct {
	RequestID string
	UserID    int64
	PackageID int64
}

// Create 下单时快照套餐的点数和价格，订单为 pending，不影响余额
func (s *PurchaseService) Create(ctx context.Context, req *CreatePurchaseRequest) (*model.PurchaseOrder, error) {
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" || len(req.RequestID) > 64 {
		return nil, validationError("request_id 不能为空且不超过 64 个字符")
	}
	if req.PackageID <= 0 {
		return nil, validationError("package_id 不合法")
	}

	// 幂等校验
	if existing, err := s.findExisting(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	var order *model.PurchaseOrder
	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		pkg, err := s.packageRepo.GetByID(storeCtx, tx, req.PackageID)
		if err != nil {
			return err
		}

		order = &model.PurchaseOrder{
			OrderNo:         s.newOrderNo(),
			RequestID:       req.RequestID,
			UserID:          req.UserID,
			PackageID:       pkg.ID,
			EditingPoints:   pkg.EditingPoints,
			DesignPoints:    pkg.DesignPoints,
			RecordingPoints: pkg.RecordingPoints,
			Price:           pkg.Price,
			Status:          model.OrderStatusPending,
		}
		if err := createWithOrderNo(func() error {
			return s.purchaseRepo.Create(storeCtx, tx, order)
		}, func() {
			order.OrderNo = s.newOrderNo()
		}); err != nil {
			return err
		}

		return s.events.record(storeCtx, tx, order.OrderNo, model.EventPurchaseCreated, map[string]interface{}{
			"user_id":    order.UserID,
			"package_id": order.PackageID,
			"price":      order.Price.String(),
			"status":     order.Status,
		})
	})

	if err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			if existing, findErr := s.findExisting(ctx, req); findErr != nil || existing != nil {
				return existing, findErr
			}
		}
		return nil, writeError(err)
	}

	logger.FromContext(ctx).Info("充值订单已创建", "order_no", order.OrderNo, "package_id", order.PackageID)
	return order, nil
}

func (s *PurchaseService) findExisting(ctx context.Context, req *CreatePurchaseRequest) (*model.PurchaseOrder, error) {
	storeCtx, cancel := storeContext(context.WithoutCancel(ctx), s.cfg)
	defer cancel()

	existing, err := s.purchaseRepo.GetByRequestID(storeCtx, req.RequestID)
	if err != nil {
		return nil, storeError(err)
	}
	if existing != nil && existing.UserID != req.UserID {
		return nil, validationError("request_id 已被使用")
	}
	return existing, nil
}

func (s *PurchaseService) ListUserPurchases(ctx context.Context, userID int64, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	orders, total, err := s.purchaseRepo.ListByUserID(storeCtx, userID, page, pageSize)
	return orders, total, storeError(err)
}

func (s *PurchaseService) AdminListPurchases(ctx context.Context, caller *auth.Identity, status string, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	if err := requireAdmin(ctx, s.cfg, s.reconciler, caller); err != nil {
		return nil, 0, err
	}
	if status != "" && !model.IsKnownStatus(model.PurchaseStatusTransitions, status) {
		return nil, 0, validationError("未知订单状态: %s", status)
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	orders, total, err := s.purchaseRepo.ListByStatus(storeCtx, status, page, pageSize)
	return orders, total, storeError(err)
}

// ExpireStale 关闭长时间未确认的充值订单（pending -> rejected），不影响余额。
// 返回本次关闭的数量
func (s *PurchaseService) ExpireStale(ctx context.Context, before time.Time, limit int) (int, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	orders, err := s.purchaseRepo.GetExpiredPending(storeCtx, before, limit)
	cancel()
	if err != nil {
		return 0, storeError(err)
	}

	closed := 0
	for _, order := range orders {
		err := s.expireOne(ctx, order)
		if errors.Is(err, repository.ErrOrderStatusInvalid) {
			// 已被管理员处理
			continue
		}
		if err != nil {
			logger.WorkerLog("PurchaseExpiry", "expire_order", err, "order_no", order.OrderNo)
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *PurchaseService) expireOne(ctx context.Context, order *model.PurchaseOrder) error {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	return s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		if err := s.purchaseRepo.UpdateStatus(storeCtx, tx, order.OrderNo, model.OrderStatusPending, model.OrderStatusRejected); err != nil {
			return err
		}
		return s.events.record(storeCtx, tx, order.OrderNo, model.EventPurchaseStatus, map[string]interface{}{
			"user_id": order.UserID,
			"from":    model.OrderStatusPending,
			"status":  model.OrderStatusRejected,
			"reason":  "expired",
		})
	})
}
