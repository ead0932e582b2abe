package service

import (
	"context"
	"strings"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PackageService struct {
	db           *gorm.DB
	cfg          *config.Config
	reconciler   *auth.RoleReconciler
	packageRepo  *repository.PackageRepository
	purchaseRepo *repository.PurchaseOrderRepository
}

func NewPackageService(db *gorm.DB, cfg *config.Config, reconciler *auth.RoleReconciler) *PackageService {
	return &PackageService{
		db:           db,
		cfg:          cfg,
		reconciler:   reconciler,
		packageRepo:  repository.NewPackageRepository(db),
		purchaseRepo: repository.NewPurchaseOrderRepository(db),
	}
}

type PackageInput struct {
	Name            string
	EditingPoints   int64
	DesignPoints    int64
	RecordingPoints int64
	Price           decimal.Decimal
}

func (in *PackageInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return validationError("套餐名称不能为空")
	}
	if in.EditingPoints < 0 || in.DesignPoints < 0 || in.RecordingPoints < 0 {
		return validationError("点数不能为负")
	}
	if in.EditingPoints+in.DesignPoints+in.RecordingPoints == 0 {
		return validationError("套餐至少包含一种点数")
	}
	if in.Price.IsNegative() {
		return validationError("价格不能为负")
	}
	return nil
}

func (s *PackageService) List(ctx context.Context) ([]*model.PointsPackage, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	pkgs, err := s.packageRepo.List(storeCtx)
	return pkgs, storeError(err)
}

func (s *PackageService) Get(ctx context.Context, id int64) (*model.PointsPackage, error) {
	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	pkg, err := s.packageRepo.GetByID(storeCtx, nil, id)
	return pkg, storeError(err)
}

func (s *PackageService) Create(ctx context.Context, caller *auth.Identity, in *PackageInput) (*model.PointsPackage, error) {
	if err := requireAdmin(ctx, s.cfg, s.reconciler, caller); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	pkg := &model.PointsPackage{
		Name:            in.Name,
		EditingPoints:   in.EditingPoints,
		DesignPoints:    in.DesignPoints,
		RecordingPoints: in.RecordingPoints,
		Price:           in.Price,
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	if err := s.packageRepo.Create(storeCtx, pkg); err != nil {
		return nil, writeError(err)
	}
	logger.FromContext(ctx).Info("套餐已创建", "package_id", pkg.ID, "admin_id", caller.UserID)
	return pkg, nil
}

// Update 被已到账订单引用的套餐不能修改
func (s *PackageService) Update(ctx context.Context, caller *auth.Identity, id int64, in *PackageInput) (*model.PointsPackage, error) {
	if err := requireAdmin(ctx, s.cfg, s.reconciler, caller); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	var updated *model.PointsPackage
	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		pkg, err := s.lockMutable(storeCtx, tx, id)
		if err != nil {
			return err
		}

		pkg.Name = in.Name
		pkg.EditingPoints = in.EditingPoints
		pkg.DesignPoints = in.DesignPoints
		pkg.RecordingPoints = in.RecordingPoints
		pkg.Price = in.Price
		if err := s.packageRepo.Update(storeCtx, tx, pkg); err != nil {
			return err
		}
		updated = pkg
		return nil
	})
	if err != nil {
		return nil, writeError(err)
	}

	logger.FromContext(ctx).Info("套餐已修改", "package_id", id, "admin_id", caller.UserID)
	return updated, nil
}

// Delete 被已到账订单引用的套餐不能删除
func (s *PackageService) Delete(ctx context.Context, caller *auth.Identity, id int64) error {
	if err := requireAdmin(ctx, s.cfg, s.reconciler, caller); err != nil {
		return err
	}

	storeCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockMutable(storeCtx, tx, id); err != nil {
			return err
		}
		return s.packageRepo.Delete(storeCtx, tx, id)
	})
	if err != nil {
		return writeError(err)
	}

	logger.FromContext(ctx).Info("套餐已删除", "package_id", id, "admin_id", caller.UserID)
	return nil
}

// lockMutable 锁住套餐行后检查是否已被引用，与到账事务互斥
func (s *PackageService) lockMutable(ctx context.Context, tx *gorm.DB, id int64) (*model.PointsPackage, error) {
	pkg, err := s.packageRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	referenced, err := s.purchaseRepo.IsPackageReferenced(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if referenced {
		return nil, ErrPackageLocked
	}
	return pkg, nil
}
