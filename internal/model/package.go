package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointsPackage 点数套餐
// 一旦被已到账的充值订单引用就不能再修改或删除
type PointsPackage struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string          `gorm:"type:varchar(128);not null" json:"name"`
	EditingPoints   int64           `gorm:"not null;default:0" json:"editing_points"`
	DesignPoints    int64           `gorm:"not null;default:0" json:"design_points"`
	RecordingPoints int64           `gorm:"not null;default:0" json:"recording_points"`
	Price           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PointsPackage) TableName() string {
	return "points_package"
}
