package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/pkg/idgen"

	"gorm.io/gorm"
)

// OrderService 订单生命周期：状态变更只允许管理员，且每次都重新核对权威角色
type OrderService struct {
	db           *gorm.DB
	cfg          *config.Config
	ledger       *LedgerService
	reconciler   *auth.RoleReconciler
	serviceRepo  *repository.ServiceOrderRepository
	purchaseRepo *repository.PurchaseOrderRepository
}

func NewOrderService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, reconciler *auth.RoleReconciler) *OrderService {
	return &OrderService{
		db:           db,
		cfg:          cfg,
		ledger:       ledger,
		reconciler:   reconciler,
		serviceRepo:  repository.NewServiceOrderRepository(db),
		purchaseRepo: repository.NewPurchaseOrderRepository(db),
	}
}

type AdvanceResult struct {
	OrderNo string `json:"order_no"`
	From    string `json:"from"`
	Status  string `json:"status"`
	// Changed 为 false 表示订单已处于目标状态，本次是幂等的空操作
	Changed bool `json:"changed"`
}

// requireAdmin 权限判断在查单之前，无权限的调用方得不到订单是否存在的信息
func (s *OrderService) requireAdmin(ctx context.Context, caller *auth.Identity) error {
	return requireAdmin(ctx, s.cfg, s.reconciler, caller)
}

func requireAdmin(ctx context.Context, cfg *config.Config, reconciler *auth.RoleReconciler, caller *auth.Identity) error {
	if caller == nil {
		return ErrUnauthorized
	}
	ctx, cancel := storeContext(ctx, cfg)
	defer cancel()
	if reconciler.Reconcile(ctx, caller) != auth.VerdictAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *OrderService) casAttempts() int {
	if s.cfg.Business.CASRetryCount < 1 {
		return 1
	}
	return s.cfg.Business.CASRetryCount
}

// Advance 把订单推进到目标状态，按订单号前缀区分服务订单和充值订单
func (s *OrderService) Advance(ctx context.Context, caller *auth.Identity, orderNo, target string) (*AdvanceResult, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}

	target = strings.TrimSpace(target)
	switch {
	case strings.HasPrefix(orderNo, idgen.PrefixService):
		return s.advanceService(ctx, orderNo, target)
	case strings.HasPrefix(orderNo, idgen.PrefixPurchase):
		return s.advancePurchase(ctx, orderNo, target, func(status string) bool { return status == target })
	default:
		return nil, ErrOrderNotFound
	}
}

// GrantPurchase 充值到账，已经 approved / completed 的订单直接返回成功
func (s *OrderService) GrantPurchase(ctx context.Context, caller *auth.Identity, orderNo string) (*AdvanceResult, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(orderNo, idgen.PrefixPurchase) {
		return nil, ErrOrderNotFound
	}
	return s.advancePurchase(ctx, orderNo, model.OrderStatusApproved, func(status string) bool {
		return status == model.OrderStatusApproved || status == model.OrderStatusCompleted
	})
}

func (s *OrderService) advanceService(ctx context.Context, orderNo, target string) (*AdvanceResult, error) {
	if !model.IsKnownStatus(model.ServiceStatusTransitions, target) {
		return nil, fmt.Errorf("%w: 服务订单没有状态 %q", ErrInvalidTransition, target)
	}
	log := logger.FromContext(ctx).With("order_no", orderNo, "target", target)

	for attempt := 0; attempt < s.casAttempts(); attempt++ {
		result, retry, err := s.tryAdvanceService(ctx, orderNo, target)
		if !retry {
			if err == nil && result.Changed {
				log.Info("服务订单状态已变更", "from", result.From)
			}
			return result, err
		}
		log.Warn("订单状态被并发修改，重新读取", "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: 订单状态持续被并发修改", ErrInvalidTransition)
}

// tryAdvanceService retry=true 表示 CAS 未命中，需要重新读取后再判断
func (s *OrderService) tryAdvanceService(ctx context.Context, orderNo, target string) (*AdvanceResult, bool, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	order, err := s.serviceRepo.GetByOrderNo(storeCtx, nil, orderNo)
	if err != nil {
		return nil, false, storeError(err)
	}
	result := &AdvanceResult{OrderNo: orderNo, From: order.Status, Status: target}

	if !model.IsKnownStatus(model.ServiceStatusTransitions, order.Status) {
		logger.IntegrityAlarm(ctx, "unknown_order_status", "order_no", orderNo, "status", order.Status)
		return nil, false, ErrConsistencyViolation
	}
	if order.Status == target {
		return result, false, nil
	}
	if !model.CanTransitionTo(model.ServiceStatusTransitions, order.Status, target) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	err = s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		switch target {
		case model.OrderStatusCompleted:
			return s.ledger.Settle(storeCtx, tx, order)
		case model.OrderStatusRejected:
			return s.ledger.Refund(storeCtx, tx, order)
		default:
			return s.ledger.transitionService(storeCtx, tx, order, target)
		}
	})
	if errors.Is(err, repository.ErrOrderStatusInvalid) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, writeError(err)
	}

	s.ledger.Invalidate(ctx, order.UserID, order.Category)
	result.Changed = true
	return result, false, nil
}

func (s *OrderService) advancePurchase(ctx context.Context, orderNo, target string, satisfied func(string) bool) (*AdvanceResult, error) {
	if !model.IsKnownStatus(model.PurchaseStatusTransitions, target) {
		return nil, fmt.Errorf("%w: 充值订单没有状态 %q", ErrInvalidTransition, target)
	}
	log := logger.FromContext(ctx).With("order_no", orderNo, "target", target)

	for attempt := 0; attempt < s.casAttempts(); attempt++ {
		result, retry, err := s.tryAdvancePurchase(ctx, orderNo, target, satisfied)
		if !retry {
			if err == nil && result.Changed {
				log.Info("充值订单状态已变更", "from", result.From)
			}
			return result, err
		}
		log.Warn("订单状态被并发修改，重新读取", "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: 订单状态持续被并发修改", ErrInvalidTransition)
}

func (s *OrderService) tryAdvancePurchase(ctx context.Context, orderNo, target string, satisfied func(string) bool) (*AdvanceResult, bool, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	purchase, err := s.purchaseRepo.GetByOrderNo(storeCtx, nil, orderNo)
	if err != nil {
		return nil, false, storeError(err)
	}
	result := &AdvanceResult{OrderNo: orderNo, From: purchase.Status, Status: purchase.Status}

	if !model.IsKnownStatus(model.PurchaseStatusTransitions, purchase.Status) {
		logger.IntegrityAlarm(ctx, "unknown_order_status", "order_no", orderNo, "status", purchase.Status)
		return nil, false, ErrConsistencyViolation
	}
	if satisfied(purchase.Status) {
		return result, false, nil
	}
	if !model.CanTransitionTo(model.PurchaseStatusTransitions, purchase.Status, target) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, purchase.Status, target)
	}

	// 只有从 pending 出发进入 approved / completed 才是到账
	grants := purchase.Status == model.OrderStatusPending &&
		(target == model.OrderStatusApproved || target == model.OrderStatusCompleted)

	err = s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		if grants {
			return s.ledger.Grant(storeCtx, tx, purchase, target)
		}
		return s.ledger.transitionPurchase(storeCtx, tx, purchase, target, model.EventPurchaseStatus)
	})
	if errors.Is(err, repository.ErrOrderStatusInvalid) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, writeError(err)
	}

	if grants {
		s.ledger.Invalidate(ctx, purchase.UserID, model.AllCategories...)
	}
	result.Status = target
	result.Changed = true
	return result, false, nil
}

// OrderDetail 订单详情，Type 为 service 或 purchase
type OrderDetail struct {
	Type     string               `json:"type"`
	Service  *model.ServiceOrder  `json:"service,omitempty"`
	Purchase *model.PurchaseOrder `json:"purchase,omitempty"`
}

// GetOrder 只读操作，非本人订单要求管理员身份
func (s *OrderService) GetOrder(ctx context.Context, caller *auth.Identity, orderNo string) (*OrderDetail, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	var (
		detail *OrderDetail
		owner  int64
	)
	switch {
	case strings.HasPrefix(orderNo, idgen.PrefixService):
		order, err := s.serviceRepo.GetByOrderNo(storeCtx, nil, orderNo)
		if err != nil {
			return nil, storeError(err)
		}
		detail, owner = &OrderDetail{Type: "service", Service: order}, order.UserID
	case strings.HasPrefix(orderNo, idgen.PrefixPurchase):
		order, err := s.purchaseRepo.GetByOrderNo(storeCtx, nil, orderNo)
		if err != nil {
			return nil, storeError(err)
		}
		detail, owner = &OrderDetail{Type: "purchase", Purchase: order}, order.UserID
	default:
		return nil, ErrOrderNotFound
	}

	if err := s.requireOwnerOrAdmin(ctx, caller, owner); err != nil {
		return nil, err
	}
	return detail, nil
}

// GetByRequestID 超时后按 request_id 回查预占或充值结果
func (s *OrderService) GetByRequestID(ctx context.Context, caller *auth.Identity, requestID string) (*OrderDetail, error) {
	if caller == nil {
		return nil, ErrUnauthorized
	}
	if requestID == "" {
		return nil, validationError("request_id 不能为空")
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	order, err := s.serviceRepo.GetByRequestID(storeCtx, requestID)
	if err != nil {
		return nil, storeError(err)
	}
	if order != nil {
		if err := s.requireOwnerOrAdmin(ctx, caller, order.UserID); err != nil {
			return nil, err
		}
		return &OrderDetail{Type: "service", Service: order}, nil
	}

	purchase, err := s.purchaseRepo.GetByRequestID(storeCtx, requestID)
	if err != nil {
		return nil, storeError(err)
	}
	if purchase == nil {
		return nil, ErrOrderNotFound
	}
	if err := s.requireOwnerOrAdmin(ctx, caller, purchase.UserID); err != nil {
		return nil, err
	}
	return &OrderDetail{Type: "purchase", Purchase: purchase}, nil
}

func (s *OrderService) requireOwnerOrAdmin(ctx context.Context, caller *auth.Identity, owner int64) error {
	if caller.UserID == owner {
		return nil
	}
	return s.requireAdmin(ctx, caller)
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	orders, total, err := s.serviceRepo.ListByUserID(storeCtx, userID, page, pageSize)
	return orders, total, storeError(err)
}

// AdminListOrders status 为空时返回全部
func (s *OrderService) AdminListOrders(ctx context.Context, caller *auth.Identity, status string, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return nil, 0, err
	}
	if status != "" && !model.IsKnownStatus(model.ServiceStatusTransitions, status) {
		return nil, 0, validationError("未知订单状态: %s", status)
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	orders, total, err := s.serviceRepo.ListByStatus(storeCtx, status, page, pageSize)
	return orders, total, storeError(err)
}
