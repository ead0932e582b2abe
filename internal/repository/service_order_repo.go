package repository

import (
	"context"
	"errors"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"gorm.io/gorm"
)

type ServiceOrderRepository struct {
	db *gorm.DB
}

func NewServiceOrderRepository(db *gorm.DB) *ServiceOrderRepository {
	return &ServiceOrderRepository{db: db}
}

func (r *ServiceOrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.ServiceOrder) error {
	return createOrder(conn(r.db, tx).WithContext(ctx), order, order.RequestID)
}

func (r *ServiceOrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.ServiceOrder, error) {
	var order model.ServiceOrder
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
func (r *ServiceOrderRepository) GetByRequestID(ctx context.Context, requestID string) (*model.ServiceOrder, error) {
	var order model.ServiceOrder
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 状态 CAS：WHERE order_no = ? AND status = ?，没有命中说明被并发修改
func (r *ServiceOrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(model.ServiceStatusTransitions, fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// SumSpent 某用户某类别被占用/消耗的点数
func (r *ServiceOrderRepository) SumSpent(ctx context.Context, tx *gorm.DB, userID int64, category model.PointCategory) (int64, error) {
	var total int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Select("COALESCE(SUM(points_cost), 0)").
		Where("user_id = ? AND category = ? AND status IN ?", userID, category, model.SpendingStatuses).
		Row().
		Scan(&total)
	return total, err
}

func (r *ServiceOrderRepository) CountUnknownStatus(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ServiceOrder{}).
		Where("status NOT IN ?", []string{model.OrderStatusPending, model.OrderStatusInProgress, model.OrderStatusCompleted, model.OrderStatusRejected}).
		Count(&count).Error
	return count, err
}

func (r *ServiceOrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	return r.list(r.db.WithContext(ctx).Model(&model.ServiceOrder{}).Where("user_id = ?", userID), page, pageSize)
}

// ListByStatus status 为空时不过滤
func (r *ServiceOrderRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.ServiceOrder{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.list(query, page, pageSize)
}

func (r *ServiceOrderRepository) list(query *gorm.DB, page, pageSize int) ([]*model.ServiceOrder, int64, error) {
	var orders []*model.ServiceOrder
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
