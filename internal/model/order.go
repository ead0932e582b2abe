package model

import (
	"time"

	"gorm.io/datatypes"
)

// 订单状态，服务订单和充值订单共用
const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusApproved   = "approved"
	OrderStatusCompleted  = "completed"
	OrderStatusRejected   = "rejected"
)

// ServiceStatusTransitions 服务订单状态机
//
//	pending -> in_progress -> completed
//	pending -> rejected
//	in_progress -> rejected（开工后取消，点数自动退回）
var ServiceStatusTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusInProgress, OrderStatusRejected},
	OrderStatusInProgress: {OrderStatusCompleted, OrderStatusRejected},
}

// PurchaseStatusTransitions 充值订单状态机，approved 之后不允许 rejected，
// 否则已到账的点数会被收回，余额可能变成负数
var PurchaseStatusTransitions = map[string][]string{
	OrderStatusPending:  {OrderStatusApproved, OrderStatusCompleted, OrderStatusRejected},
	OrderStatusApproved: {OrderStatusCompleted},
}

// SpendingStatuses 计入扣点的服务订单状态
var SpendingStatuses = []string{OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted}

// GrantingStatuses 计入到账的充值订单状态
var GrantingStatuses = []string{OrderStatusApproved, OrderStatusCompleted}

func CanTransitionTo(graph map[string][]string, currentStatus, targetStatus string) bool {
	allowedStatuses, exists := graph[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsKnownStatus 状态是否出现在状态机中（作为起点或终点）
func IsKnownStatus(graph map[string][]string, status string) bool {
	if _, ok := graph[status]; ok {
		return true
	}
	for _, targets := range graph {
		for _, s := range targets {
			if s == status {
				return true
			}
		}
	}
	return false
}

// ServiceOrder 服务订单（录制 / 封面设计 / 抖音 / vlog）
// 各类订单只是 Payload 不同，生命周期完全一致
type ServiceOrder struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo    string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID  string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	UserID     int64          `gorm:"index:idx_service_user_category;not null" json:"user_id"`
	Kind       OrderKind      `gorm:"type:varchar(20);not null" json:"kind"`
	Category   PointCategory  `gorm:"type:varchar(20);index:idx_service_user_category;not null" json:"category"`
	PointsCost int64          `gorm:"not null" json:"points_cost"`
	Status     string         `gorm:"type:varchar(20);index;not null" json:"status"`
	Payload    datatypes.JSON `json:"payload"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ServiceOrder) TableName() string {
	return "service_order"
}
