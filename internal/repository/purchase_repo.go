package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"gorm.io/gorm"
)

type PurchaseOrderRepository struct {
	db *gorm.DB
}

func NewPurchaseOrderRepository(db *gorm.DB) *PurchaseOrderRepository {
	return &PurchaseOrderRepository{db: db}
}

func (r *PurchaseOrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.PurchaseOrder) error {
	return createOrder(conn(r.db, tx).WithContext(ctx), order, order.RequestID)
}

func (r *PurchaseOrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PurchaseOrder, error) {
	var order model.PurchaseOrder
	err := conn(r.db, tx).WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByRequestID 不存在时返回 nil, nil
func (r *PurchaseOrderRepository) GetByRequestID(ctx context.Context, requestID string) (*model.PurchaseOrder, error) {
	var order model.PurchaseOrder
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 状态 CAS：只有当前状态仍是 fromStatus 才更新
func (r *PurchaseOrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(model.PurchaseStatusTransitions, fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.OrderStatusApproved || (toStatus == model.OrderStatusCompleted && fromStatus == model.OrderStatusPending) {
		now := time.Now()
		updates["granted_at"] = &now
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PurchaseOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// SumGranted 某用户某类别已到账的点数
func (r *PurchaseOrderRepository) SumGranted(ctx context.Context, tx *gorm.DB, userID int64, category model.PointCategory) (int64, error) {
	column, ok := model.PurchaseColumn(category)
	if !ok {
		return 0, fmt.Errorf("未知点数类别: %s", category)
	}

	var total int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.PurchaseOrder{}).
		Select("COALESCE(SUM("+column+"), 0)").
		Where("user_id = ? AND status IN ?", userID, model.GrantingStatuses).
		Row().
		Scan(&total)
	return total, err
}

// IsPackageReferenced 套餐是否已被到账的充值订单引用
func (r *PurchaseOrderRepository) IsPackageReferenced(ctx context.Context, tx *gorm.DB, packageID int64) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.PurchaseOrder{}).
		Where("package_id = ? AND status IN ?", packageID, model.GrantingStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *PurchaseOrderRepository) GetExpiredPending(ctx context.Context, before time.Time, limit int) ([]*model.PurchaseOrder, error) {
	var orders []*model.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.OrderStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *PurchaseOrderRepository) CountUnknownStatus(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PurchaseOrder{}).
		Where("status NOT IN ?", []string{model.OrderStatusPending, model.OrderStatusApproved, model.OrderStatusCompleted, model.OrderStatusRejected}).
		Count(&count).Error
	return count, err
}

func (r *PurchaseOrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&model.PurchaseOrder{}).Where("user_id = ?", userID), page, pageSize)
}

// ListByStatus status 为空时不过滤
func (r *PurchaseOrderRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.PurchaseOrder{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.list(ctx, query, page, pageSize)
}

func (r *PurchaseOrderRepository) list(ctx context.Context, query *gorm.DB, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	var orders []*model.PurchaseOrder
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset(pageOffset(page, pageSize)).
		Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}
