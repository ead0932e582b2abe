package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/handler"
	"github.com/Mupaky/topreach-sub001/internal/infrastructure/cache"
	"github.com/Mupaky/topreach-sub001/internal/infrastructure/database"
	"github.com/Mupaky/topreach-sub001/internal/infrastructure/mq"
	"github.com/Mupaky/topreach-sub001/internal/job"
	"github.com/Mupaky/topreach-sub001/internal/logger"
	"github.com/Mupaky/topreach-sub001/internal/repository"
	"github.com/Mupaky/topreach-sub001/internal/service"
	"github.com/Mupaky/topreach-sub001/pkg/idgen"
)

func main() {
	configPath := os.Getenv("AGENCY_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// 加载配置
	cfg := config.LoadConfig(configPath)
	logger.Init(cfg.Log.Env, cfg.Log.Level)

	// 初始化 ID 生成器，节点号来自配置，多实例不能重复
	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		logger.Fatal("初始化 ID 生成器失败", "node_id", cfg.Server.NodeID, "error", err)
	}

	db := database.InitDB(&cfg.Database)
	redisClient := cache.InitRedis(&cfg.Redis)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka 未配置时事件留在 outbox，配置后再补发
	var producer *mq.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			logger.Fatal("初始化 Kafka 失败", "error", err)
		}
		producer = p
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, producer, cfg)
		go outboxSender.Start(ctx)
	} else {
		logger.Warn("未配置 Kafka，订单事件暂存 outbox")
	}

	ledger := service.NewLedgerService(db, redisClient, cfg)
	reconciler := auth.NewRoleReconciler(repository.NewUserRepository(db))
	purchases := service.NewPurchaseService(db, cfg, reconciler)

	expiryJob := job.NewPurchaseExpiryJob(purchases, cfg)
	go expiryJob.Start(ctx)

	auditJob := job.NewBalanceAuditJob(db, ledger)
	go auditJob.Start(ctx)

	router := handler.SetupRouter(db, redisClient, cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("服务启动", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("服务启动失败", "error", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", "error", err)
	}

	logger.Info("服务已关闭")
}
