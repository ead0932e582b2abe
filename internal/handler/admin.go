package handler

import (
	"strconv"

	"github.com/Mupaky/topreach-sub001/internal/service"
	"github.com/Mupaky/topreach-sub001/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// 以下接口都在服务层经过 RoleReconciler 核对权威角色

type AdvanceOrderRequest struct {
	Status string `json:"status" binding:"required,order_status"`
}

// AdvanceOrder 变更订单状态，服务订单和充值订单按订单号前缀区分
// PUT /api/v1/admin/orders/:order_no/status
func (h *Handler) AdvanceOrder(c *gin.Context) {
	var req AdvanceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.orderService.Advance(c.Request.Context(), currentIdentity(c), c.Param("order_no"), req.Status)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"ok":      true,
		"changed": result.Changed,
		"status":  result.Status,
	})
}

// GrantPurchase 充值到账，重复调用不会重复加点
// POST /api/v1/admin/purchases/:order_no/grant
func (h *Handler) GrantPurchase(c *gin.Context) {
	result, err := h.orderService.GrantPurchase(c.Request.Context(), currentIdentity(c), c.Param("order_no"))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"ok":      true,
		"changed": result.Changed,
		"status":  result.Status,
	})
}

// AdminListOrders GET /api/v1/admin/orders?status=pending
func (h *Handler) AdminListOrders(c *gin.Context) {
	page, pageSize := pagination(c)

	orders, total, err := h.orderService.AdminListOrders(c.Request.Context(), currentIdentity(c), c.Query("status"), page, pageSize)
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

// AdminListPurchases GET /api/v1/admin/purchases?status=pending
func (h *Handler) AdminListPurchases(c *gin.Context) {
	page, pageSize := pagination(c)

	orders, total, err := h.purchaseService.AdminListPurchases(c.Request.Context(), currentIdentity(c), c.Query("status"), page, pageSize)
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

type PackageRequest struct {
	Name            string          `json:"name" binding:"required,max=128"`
	EditingPoints   int64           `json:"editing_points" binding:"gte=0"`
	DesignPoints    int64           `json:"design_points" binding:"gte=0"`
	RecordingPoints int64           `json:"recording_points" binding:"gte=0"`
	Price           decimal.Decimal `json:"price"`
}

func (r *PackageRequest) input() *service.PackageInput {
	return &service.PackageInput{
		Name:            r.Name,
		EditingPoints:   r.EditingPoints,
		DesignPoints:    r.DesignPoints,
		RecordingPoints: r.RecordingPoints,
		Price:           r.Price,
	}
}

// CreatePackage POST /api/v1/admin/packages
func (h *Handler) CreatePackage(c *gin.Context) {
	var req PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pkg, err := h.packageService.Create(c.Request.Context(), currentIdentity(c), req.input())
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, pkg)
}

// UpdatePackage PUT /api/v1/admin/packages/:id
func (h *Handler) UpdatePackage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	pkg, err := h.packageService.Update(c.Request.Context(), currentIdentity(c), id, req.input())
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, pkg)
}

// DeletePackage DELETE /api/v1/admin/packages/:id
func (h *Handler) DeletePackage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	if err := h.packageService.Delete(c.Request.Context(), currentIdentity(c), id); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
