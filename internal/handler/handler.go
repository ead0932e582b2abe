package handler

import (
	"encoding/json"
	"strconv"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/internal/service"
	"github.com/Mupaky/topreach-sub001/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg             *config.Config
	authService     *service.AuthService
	ledger          *service.LedgerService
	orderService    *service.OrderService
	purchaseService *service.PurchaseService
	packageService  *service.PackageService
}

// NewHandler rdb 可以为 nil
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	reconciler := auth.NewRoleReconciler(repository.NewUserRepository(db))
	authority := auth.NewSessionAuthority(cfg.Session.Secret, cfg.SessionTTL(), cfg.Session.Issuer)
	ledger := service.NewLedgerService(db, rdb, cfg)

	return &Handler{
		cfg:             cfg,
		authService:     service.NewAuthService(db, cfg, ledger, authority),
		ledger:          ledger,
		orderService:    service.NewOrderService(db, cfg, ledger, reconciler),
		purchaseService: service.NewPurchaseService(db, cfg, reconciler),
		packageService:  service.NewPackageService(db, cfg, reconciler),
	}
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// ============================================================
// 点数相关接口
// ============================================================

// ActivePoints 查询可用点数
// GET /api/v1/points/active?user_id=xxx&category=editing
// 只读接口，按会话角色判断能否查看他人余额
func (h *Handler) ActivePoints(c *gin.Context) {
	caller := currentIdentity(c)

	userIDStr := c.Query("user_id")
	categoryStr := c.Query("category")
	if userIDStr == "" || categoryStr == "" {
		response.ParamError(c, "user_id 和 category 不能为空")
		return
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	category := model.PointCategory(categoryStr)
	if !category.Valid() {
		response.ParamError(c, "category 参数错误")
		return
	}
	if userID != caller.UserID && !caller.IsAdminClaim() {
		renderError(c, service.ErrForbidden)
		return
	}

	total, err := h.ledger.CachedBalance(c.Request.Context(), userID, category)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"total": total})
}

// PointsOverview 当前用户三个类别的余额
// GET /api/v1/points
func (h *Handler) PointsOverview(c *gin.Context) {
	caller := currentIdentity(c)

	snapshot, err := h.ledger.Snapshot(c.Request.Context(), caller.UserID)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, snapshot)
}

// ============================================================
// 服务订单相关接口
// ============================================================

// ReserveOrderRequest 预占点数并下单
type ReserveOrderRequest struct {
	RequestID string          `json:"request_id" binding:"required,max=64"` // 幂等ID，客户端生成
	Kind      string          `json:"kind" binding:"required,order_kind"`
	Category  string          `json:"category" binding:"omitempty,point_category"` // 为空时按 kind 取默认类别
	Amount    int64           `json:"amount" binding:"required,gt=0"`
	Payload   json.RawMessage `json:"payload"`
}

// ReserveOrder 下单
// POST /api/v1/orders/reserve
func (h *Handler) ReserveOrder(c *gin.Context) {
	caller := currentIdentity(c)

	var req ReserveOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledger.Reserve(c.Request.Context(), &service.ReserveRequest{
		RequestID: req.RequestID,
		UserID:    caller.UserID,
		Kind:      model.OrderKind(req.Kind),
		Category:  model.PointCategory(req.Category),
		Amount:    req.Amount,
		Payload:   req.Payload,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	data := gin.H{
		"order_no": result.Order.OrderNo,
		"status":   result.Order.Status,
		"category": result.Order.Category,
		"existing": result.Existing,
	}
	if !result.Existing {
		data["balance"] = result.Balance
	}
	response.Success(c, data)
}

// GetOrder 订单详情，服务订单和充值订单都可查
// GET /api/v1/orders/:order_no
func (h *Handler) GetOrder(c *gin.Context) {
	detail, err := h.orderService.GetOrder(c.Request.Context(), currentIdentity(c), c.Param("order_no"))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, detail)
}

// GetOrderByRequestID 超时后按 request_id 回查
// GET /api/v1/orders/by-request/:request_id
func (h *Handler) GetOrderByRequestID(c *gin.Context) {
	detail, err := h.orderService.GetByRequestID(c.Request.Context(), currentIdentity(c), c.Param("request_id"))
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, detail)
}

// ListOrders 当前用户的服务订单
// GET /api/v1/orders?page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	page, pageSize := pagination(c)

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), currentIdentity(c).UserID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 充值订单相关接口
// ============================================================

type CreatePurchaseRequest struct {
	RequestID string `json:"request_id" binding:"required,max=64"`
	PackageID int64  `json:"package_id" binding:"required,gt=0"`
}

// CreatePurchase 按套餐下充值订单，到账前不影响余额
// POST /api/v1/purchases
func (h *Handler) CreatePurchase(c *gin.Context) {
	var req CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.purchaseService.Create(c.Request.Context(), &service.CreatePurchaseRequest{
		RequestID: req.RequestID,
		UserID:    currentIdentity(c).UserID,
		PackageID: req.PackageID,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, order)
}

// ListPurchases 当前用户的充值订单
// GET /api/v1/purchases
func (h *Handler) ListPurchases(c *gin.Context) {
	page, pageSize := pagination(c)

	orders, total, err := h.purchaseService.ListUserPurchases(c.Request.Context(), currentIdentity(c).UserID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 套餐（公开）
// ============================================================

// ListPackages GET /api/v1/packages
func (h *Handler) ListPackages(c *gin.Context) {
	pkgs, err := h.packageService.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, pkgs)
}

// GetPackage GET /api/v1/packages/:id
func (h *Handler) GetPackage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	pkg, err := h.packageService.Get(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, pkg)
}
