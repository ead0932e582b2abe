package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/infrastructure/cache"
	"github.com/Mupaky/topreach-sub001/internal/infrastructure/lock"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ============================================================================
// 点数账本
// ============================================================================
//
// 余额 = Σ 已到账充值订单(approved/completed) 的点数
//      − Σ 服务订单(pending/in_progress/completed) 的扣点
//
// 没有余额字段，任何时候都能从订单表重新聚合出来。
// 预占 = 在锁住 points_guard 行的事务里重新聚合、判断、插入 pending 订单；
// 结算 / 退回 / 到账都只是订单状态变化
// ============================================================================

type LedgerService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	balanceCache *cache.BalanceCache
	purchaseRepo *repository.PurchaseOrderRepository
	serviceRepo  *repository.ServiceOrderRepository
	guardRepo    *repository.GuardRepository
	packageRepo  *repository.PackageRepository
	events       *eventRecorder
	newOrderNo   func() string
}

// NewLedgerService redisClient 可以为 nil，此时不启用缓存和咨询锁
func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		balanceCache: cache.NewBalanceCache(redisClient, cfg.BalanceCacheTTL()),
		purchaseRepo: repository.NewPurchaseOrderRepository(db),
		serviceRepo:  repository.NewServiceOrderRepository(db),
		guardRepo:    repository.NewGuardRepository(db),
		packageRepo:  repository.NewPackageRepository(db),
		events:       newEventRecorder(db, cfg.Kafka.Topic.OrderEvents),
		newOrderNo:   idgen.GenerateServiceOrderNo,
	}
}

// storeContext 每次存储调用都带超时
func storeContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.StoreTimeout())
}

// Balance 重新聚合得到的实时余额，结果为负返回 ErrConsistencyViolation
func (s *LedgerService) Balance(ctx context.Context, userID int64, category model.PointCategory) (int64, error) {
	if err := validateBalanceQuery(userID, category); err != nil {
		return 0, err
	}

	ctx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	balance, err := s.aggregate(ctx, nil, userID, category)
	return balance, storeError(err)
}

func validateBalanceQuery(userID int64, category model.PointCategory) error {
	if userID <= 0 {
		return validationError("user_id 不合法")
	}
	if !category.Valid() {
		return validationError("未知点数类别: %s", category)
	}
	return nil
}

// CachedBalance 展示用余额：缓存的版本号与 guard 当前版本一致才命中，否则重新聚合并回填。
// 版本号在聚合之前读取，聚合期间提交的写入会让这次回填的值在下次读取时失效
func (s *LedgerService) CachedBalance(ctx context.Context, userID int64, category model.PointCategory) (int64, error) {
	if err := validateBalanceQuery(userID, category); err != nil {
		return 0, err
	}

	readCtx, cancel := storeContext(ctx, s.cfg)
	version, err := s.guardRepo.Version(readCtx, userID, category)
	cancel()
	if err != nil {
		return 0, storeError(err)
	}

	if entry, ok := s.balanceCache.Get(ctx, userID, category); ok && entry.Version == version {
		return entry.Balance, nil
	}
	balance, err := s.Balance(ctx, userID, category)
	if err != nil {
		return 0, err
	}
	s.balanceCache.Set(ctx, userID, category, balance, version)
	return balance, nil
}

// Snapshot 三个类别的余额，登录签发会话时写入快照
func (s *LedgerService) Snapshot(ctx context.Context, userID int64) (map[model.PointCategory]int64, error) {
	snapshot := make(map[model.PointCategory]int64, len(model.AllCategories))
	for _, category := range model.AllCategories {
		balance, err := s.CachedBalance(ctx, userID, category)
		if err != nil {
			return nil, err
		}
		snapshot[category] = balance
	}
	return snapshot, nil
}

// aggregate tx 非空时在事务内聚合
func (s *LedgerService) aggregate(ctx context.Context, tx *gorm.DB, userID int64, category model.PointCategory) (int64, error) {
	granted, err := s.purchaseRepo.SumGranted(ctx, tx, userID, category)
	if err != nil {
		return 0, fmt.Errorf("汇总到账点数失败: %w", err)
	}
	spent, err := s.serviceRepo.SumSpent(ctx, tx, userID, category)
	if err != nil {
		return 0, fmt.Errorf("汇总扣点失败: %w", err)
	}

	balance := granted - spent
	if balance < 0 {
		logger.IntegrityAlarm(ctx, "negative_balance",
			"user_id", userID, "category", category, "granted", granted, "spent", spent, "balance", balance)
		return balance, ErrConsistencyViolation
	}
	return balance, nil
}

// Invalidate 余额相关写入提交后删除缓存
func (s *LedgerService) Invalidate(ctx context.Context, userID int64, categories ...model.PointCategory) {
	s.balanceCache.Invalidate(ctx, userID, categories...)
}

type ReserveRequest struct {
	RequestID string
	UserID    int64
	Kind      model.OrderKind
	Category  model.PointCategory
	Amount    int64
	Payload   json.RawMessage
}

type ReserveResult struct {
	Order *model.ServiceOrder
	// Balance 预占后的余额，重复请求时为 -1（未重新计算）
	Balance int64
	// Existing 该 request_id 已经预占过，返回的是原订单
	Existing bool
}

func (r *ReserveRequest) normalize() error {
	r.RequestID = strings.TrimSpace(r.RequestID)
	if r.RequestID == "" || len(r.RequestID) > 64 {
		return validationError("request_id 不能为空且不超过 64 个字符")
	}
	if r.UserID <= 0 {
		return validationError("user_id 不合法")
	}
	if !r.Kind.Valid() {
		return validationError("未知订单类型: %s", r.Kind)
	}
	if r.Category == "" {
		r.Category = r.Kind.DefaultCategory()
	}
	if !r.Category.Valid() {
		return validationError("未知点数类别: %s", r.Category)
	}
	if r.Amount <= 0 {
		return validationError("amount 必须大于0")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return validationError("payload 不是合法的 JSON")
	}
	return nil
}

// Reserve 预占点数并创建 pending 服务订单。
// 同一 request_id 重复调用返回同一订单；超时返回 ErrOutcomeUnknown，
// 调用方需要先按 request_id 查询再决定是否重试
func (s *LedgerService) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("request_id_client", req.RequestID, "category", req.Category)

	// 幂等校验
	if existing, err := s.findReservation(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	// 咨询锁只用来削减争抢，拿不到也继续，正确性由 guard 行锁保证
	if s.redisClient != nil {
		reserveLock := lock.NewReserveLock(s.redisClient, req.UserID, req.Category, req.RequestID)
		if err := reserveLock.Lock(ctx, 20*time.Millisecond, 25); err != nil {
			log.Warn("未获取到预占咨询锁，直接进入事务", "error", err)
		} else {
			defer func() {
				if err := reserveLock.Unlock(context.WithoutCancel(ctx)); err != nil {
					log.Warn("释放预占咨询锁失败", "error", err)
				}
			}()
		}
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	order := &model.ServiceOrder{
		OrderNo:    s.newOrderNo(),
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		Kind:       req.Kind,
		Category:   req.Category,
		PointsCost: req.Amount,
		Status:     model.OrderStatusPending,
		Payload:    datatypes.JSON(payload),
	}

	txCtx, cancel := storeContext(ctx, s.cfg)
	defer cancel()

	var remaining int64
	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		guard, err := s.guardRepo.Acquire(txCtx, tx, req.UserID, req.Category)
		if err != nil {
			return fmt.Errorf("锁定余额失败: %w", err)
		}

		balance, err := s.aggregate(txCtx, tx, req.UserID, req.Category)
		if err != nil {
			return err
		}
		if balance < req.Amount {
			return &InsufficientBalanceError{Balance: balance, Requested: req.Amount}
		}

		if err := createWithOrderNo(func() error {
			return s.serviceRepo.Create(txCtx, tx, order)
		}, func() {
			order.OrderNo = s.newOrderNo()
		}); err != nil {
			return err
		}
		if err := s.guardRepo.Bump(txCtx, tx, guard.ID); err != nil {
			return fmt.Errorf("更新余额版本失败: %w", err)
		}
		remaining = balance - req.Amount

		return s.events.record(txCtx, tx, order.OrderNo, model.EventOrderReserved, map[string]interface{}{
			"user_id":     order.UserID,
			"kind":        order.Kind,
			"category":    order.Category,
			"points_cost": order.PointsCost,
			"status":      order.Status,
		})
	})

	if err != nil {
		var insufficient *InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			log.Info("点数不足，预占被拒绝", "balance", insufficient.Balance, "amount", req.Amount)
			return nil, err
		case errors.Is(err, repository.ErrDuplicateRequest):
			// 并发的同一 request_id，已经由另一请求创建
			existing, findErr := s.findReservation(ctx, req)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
			return nil, writeError(err)
		default:
			log.Error("预占事务失败", "error", err)
			return nil, writeError(err)
		}
	}

	s.Invalidate(ctx, req.UserID, req.Category)
	log.Info("点数预占成功", "order_no", order.OrderNo, "amount", req.Amount, "balance", remaining)

	return &ReserveResult{Order: order, Balance: remaining}, nil
}

// orderNoAttempts 订单号冲突时最多生成的订单号个数
const orderNoAttempts = 3

// createWithOrderNo 订单号撞上已有订单时换一个订单号重试，request_id 冲突原样返回
func createWithOrderNo(create func() error, renew func()) error {
	for attempt := 1; ; attempt++ {
		err := create()
		if !errors.Is(err, repository.ErrOrderNoConflict) || attempt == orderNoAttempts {
			return err
		}
		renew()
	}
}

// findReservation request_id 对应的订单必须属于同一用户
func (s *LedgerService) findReservation(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	readCtx, cancel := storeContext(context.WithoutCancel(ctx), s.cfg)
	defer cancel()

	existing, err := s.serviceRepo.GetByRequestID(readCtx, req.RequestID)
	if err != nil {
		return nil, storeError(err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != req.UserID {
		return nil, validationError("request_id 已被使用")
	}
	return &ReserveResult{Order: existing, Balance: -1, Existing: true}, nil
}

// Settle in_progress -> completed，点数已在预占时计入，这里只改状态
func (s *LedgerService) Settle(ctx context.Context, tx *gorm.DB, order *model.ServiceOrder) error {
	return s.transitionService(ctx, tx, order, model.OrderStatusCompleted)
}

// Refund 拒绝订单，rejected 不参与聚合，点数随之回到余额
func (s *LedgerService) Refund(ctx context.Context, tx *gorm.DB, order *model.ServiceOrder) error {
	return s.transitionService(ctx, tx, order, model.OrderStatusRejected)
}

// transitionService 在调用方事务内做状态 CAS、推进余额版本并写事件，成功后更新 order.Status
func (s *LedgerService) transitionService(ctx context.Context, tx *gorm.DB, order *model.ServiceOrder, target string) error {
	from := order.Status
	if err := s.serviceRepo.UpdateStatus(ctx, tx, order.OrderNo, from, target); err != nil {
		return err
	}
	if err := s.guardRepo.Touch(ctx, tx, order.UserID, order.Category); err != nil {
		return fmt.Errorf("更新余额版本失败: %w", err)
	}
	if err := s.events.record(ctx, tx, order.OrderNo, model.EventOrderStatusChanged, map[string]interface{}{
		"user_id":     order.UserID,
		"kind":        order.Kind,
		"category":    order.Category,
		"points_cost": order.PointsCost,
		"from":        from,
		"status":      target,
	}); err != nil {
		return err
	}
	order.Status = target
	return nil
}

// Grant 充值订单到账：pending -> approved / completed。
// 同时锁住套餐行，与套餐的修改/删除互斥
func (s *LedgerService) Grant(ctx context.Context, tx *gorm.DB, purchase *model.PurchaseOrder, target string) error {
	if target != model.OrderStatusApproved && target != model.OrderStatusCompleted {
		return ErrInvalidTransition
	}
	if purchase.Status != model.OrderStatusPending {
		return ErrInvalidTransition
	}

	if _, err := s.packageRepo.GetByIDForUpdate(ctx, tx, purchase.PackageID); err != nil && !errors.Is(err, repository.ErrPackageNotFound) {
		return err
	}

	if err := s.transitionPurchase(ctx, tx, purchase, target, model.EventPurchaseGranted); err != nil {
		return err
	}

	// 固定按类别顺序推进版本，避免并发到账时互相等待
	granted := purchase.GrantedPoints()
	for _, category := range model.AllCategories {
		if granted[category] == 0 {
			continue
		}
		if err := s.guardRepo.Touch(ctx, tx, purchase.UserID, category); err != nil {
			return fmt.Errorf("更新余额版本失败: %w", err)
		}
	}
	return nil
}

func (s *LedgerService) transitionPurchase(ctx context.Context, tx *gorm.DB, purchase *model.PurchaseOrder, target, eventType string) error {
	from := purchase.Status
	if err := s.purchaseRepo.UpdateStatus(ctx, tx, purchase.OrderNo, from, target); err != nil {
		return err
	}
	if err := s.events.record(ctx, tx, purchase.OrderNo, eventType, map[string]interface{}{
		"user_id":          purchase.UserID,
		"package_id":       purchase.PackageID,
		"editing_points":   purchase.EditingPoints,
		"design_points":    purchase.DesignPoints,
		"recording_points": purchase.RecordingPoints,
		"price":            purchase.Price.String(),
		"from":             from,
		"status":           target,
	}); err != nil {
		return err
	}
	purchase.Status = target
	return nil
}
