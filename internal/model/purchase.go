package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder 充值订单，点数和价格在下单时从套餐快照
// 只有 approved / completed 状态才计入余额
type PurchaseOrder struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	UserID          int64           `gorm:"index;not null" json:"user_id"`
	PackageID       int64           `gorm:"index;not null" json:"package_id"`
	EditingPoints   int64           `gorm:"not null;default:0" json:"editing_points"`
	DesignPoints    int64           `gorm:"not null;default:0" json:"design_points"`
	RecordingPoints int64           `gorm:"not null;default:0" json:"recording_points"`
	Price           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Status          string          `gorm:"type:varchar(20);index;not null" json:"status"`
	GrantedAt       *time.Time      `json:"granted_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PurchaseOrder) TableName() string {
	return "purchase_order"
}

// GrantedPoints 按类别返回该订单到账的点数
func (p *PurchaseOrder) GrantedPoints() map[PointCategory]int64 {
	return map[PointCategory]int64{
		CategoryEditing:   p.EditingPoints,
		CategoryRecording: p.RecordingPoints,
		CategoryDesign:    p.DesignPoints,
	}
}

// PurchaseColumn 类别对应的充值订单列名，聚合时使用
func PurchaseColumn(c PointCategory) (string, bool) {
	switch c {
	case CategoryEditing:
		return "editing_points", true
	case CategoryRecording:
		return "recording_points", true
	case CategoryDesign:
		return "design_points", true
	}
	return "", false
}
