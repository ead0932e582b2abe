package model

import "time"

// PointsGuard 每个 (用户, 类别) 一行，预占时先 SELECT ... FOR UPDATE 锁住它，
// 把“聚合余额 + 插入订单”串行化
type PointsGuard struct {
	ID        int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64         `gorm:"uniqueIndex:idx_guard_user_category;not null" json:"user_id"`
	Category  PointCategory `gorm:"type:varchar(20);uniqueIndex:idx_guard_user_category;not null" json:"category"`
	Version   int64         `gorm:"not null;default:0" json:"version"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PointsGuard) TableName() string {
	return "points_guard"
}
