package repository

import (
	"context"
	"errors"

	"github.com/Mupaky/topreach-sub001/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PackageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) Create(ctx context.Context, pkg *model.PointsPackage) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *PackageRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.PointsPackage, error) {
	var pkg model.PointsPackage
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// GetByIDForUpdate 修改/删除套餐前锁住该行
func (r *PackageRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.PointsPackage, error) {
	var pkg model.PointsPackage
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *PackageRepository) List(ctx context.Context) ([]*model.PointsPackage, error) {
	var pkgs []*model.PointsPackage
	err := r.db.WithContext(ctx).Order("price ASC, id ASC").Find(&pkgs).Error
	return pkgs, err
}

func (r *PackageRepository) Update(ctx context.Context, tx *gorm.DB, pkg *model.PointsPackage) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.PointsPackage{}).
		Where("id = ?", pkg.ID).
		Updates(map[string]interface{}{
			"name":             pkg.Name,
			"editing_points":   pkg.EditingPoints,
			"design_points":    pkg.DesignPoints,
			"recording_points": pkg.RecordingPoints,
			"price":            pkg.Price,
		}).Error
}

func (r *PackageRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Where("id = ?", id).Delete(&model.PointsPackage{}).Error
}
