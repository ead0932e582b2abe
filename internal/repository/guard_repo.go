package repository

import (
	"context"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GuardRepository struct {
	db *gorm.DB
}

func NewGuardRepository(db *gorm.DB) *GuardRepository {
	return &GuardRepository{db: db}
}

// seed guard 行不存在时插入，已存在则什么都不做
func (r *GuardRepository) seed(ctx context.Context, tx *gorm.DB, userID int64, category model.PointCategory) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "category"}},
			DoNothing: true,
		}).
		Create(&model.PointsGuard{UserID: userID, Category: category}).Error
}

// Acquire 必须在事务内调用：不存在则插入，然后 FOR UPDATE 锁住，
// 同一 (用户, 类别) 的预占在此处排队，直到持锁事务提交
func (r *GuardRepository) Acquire(ctx context.Context, tx *gorm.DB, userID int64, category model.PointCategory) (*model.PointsGuard, error) {
	if err := r.seed(ctx, tx, userID, category); err != nil {
		return nil, err
	}

	var guard model.PointsGuard
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND category = ?", userID, category).
		First(&guard).Error
	if err != nil {
		return nil, err
	}
	return &guard, nil
}

func (r *GuardRepository) Bump(ctx context.Context, tx *gorm.DB, guardID int64) error {
	return tx.WithContext(ctx).
		Model(&model.PointsGuard{}).
		Where("id = ?", guardID).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}

// Touch 在事务内把 (用户, 类别) 的版本号加一，余额相关的状态变化都要调用
func (r *GuardRepository) Touch(ctx context.Context, tx *gorm.DB, userID int64, category model.PointCategory) error {
	if err := r.seed(ctx, tx, userID, category); err != nil {
		return err
	}
	return tx.WithContext(ctx).
		Model(&model.PointsGuard{}).
		Where("user_id = ? AND category = ?", userID, category).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}

// Version 当前版本号，guard 行不存在时为 0
func (r *GuardRepository) Version(ctx context.Context, userID int64, category model.PointCategory) (int64, error) {
	var versions []int64
	err := r.db.WithContext(ctx).
		Model(&model.PointsGuard{}).
		Where("user_id = ? AND category = ?", userID, category).
		Pluck("version", &versions).Error
	if err != nil || len(versions) == 0 {
		return 0, err
	}
	return versions[0], nil
}
