package handler

import (
	"github.com/Mupaky/topreach-sub001/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	RegisterValidators()

	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	api := r.Group("/api/v1")
	{
		// 会话
		session := api.Group("/auth")
		{
			session.POST("/signup", h.Signup)
			session.POST("/login", h.Login)
			session.POST("/logout", h.Logout)
			session.GET("/me", h.AuthMiddleware(), h.Me)
		}

		// 套餐（公开）
		packages := api.Group("/packages")
		{
			packages.GET("", h.ListPackages)
			packages.GET("/:id", h.GetPackage)
		}

		authed := api.Group("", h.AuthMiddleware())

		// 点数
		points := authed.Group("/points")
		{
			points.GET("", h.PointsOverview)
			points.GET("/active", h.ActivePoints)
		}

		// 服务订单
		orders := authed.Group("/orders")
		{
			orders.POST("/reserve", h.ReserveOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/by-request/:request_id", h.GetOrderByRequestID)
			orders.GET("/:order_no", h.GetOrder)
		}

		// 充值订单
		purchases := authed.Group("/purchases")
		{
			purchases.POST("", h.CreatePurchase)
			purchases.GET("", h.ListPurchases)
		}

		// 管理端，权限在服务层逐次核对
		admin := authed.Group("/admin")
		{
			admin.GET("/orders", h.AdminListOrders)
			admin.PUT("/orders/:order_no/status", h.AdvanceOrder)
			admin.GET("/purchases", h.AdminListPurchases)
			admin.POST("/purchases/:order_no/grant", h.GrantPurchase)
			admin.POST("/packages", h.CreatePackage)
			admin.PUT("/packages/:id", h.UpdatePackage)
			admin.DELETE("/packages/:id", h.DeletePackage)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
