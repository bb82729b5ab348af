package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/middleware"
	"github.com/tiervault/tiervault/internal/router"
	"github.com/tiervault/tiervault/internal/service/availability"
	cacheservice "github.com/tiervault/tiervault/internal/service/cache"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ingest"
	"github.com/tiervault/tiervault/internal/service/jobs"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/service/orchestrator"
	"github.com/tiervault/tiervault/internal/service/reference"
	"github.com/tiervault/tiervault/internal/storage"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	if err := database.MigrateRequestTables(db); err != nil {
		logger.Fatalf("Failed to migrate request tables: %v", err)
	}
	if err := database.SyncStorageLocations(db, cfg.Storages); err != nil {
		logger.Fatalf("Failed to sync storage locations: %v", err)
	}

	// 初始化存储驱动注册表
	registry, err := storage.NewRegistry(cfg.Storages)
	if err != nil {
		logger.Fatalf("Failed to initialize storage registry: %v", err)
	}

	// 初始化中间件
	loggerMiddleware := middleware.NewLoggerMiddleware()

	// 初始化服务
	notifier := events.NewLogNotifier()
	ledgerService := ledger.NewLedgerService(db)
	groupService := group.NewGroupService(db, &cfg.Group, notifier)
	refService := reference.NewReferenceService(db, registry, ledgerService, groupService, notifier)
	cacheService := cacheservice.NewCacheService(db, &cfg.Cache, ledgerService, groupService, notifier)
	availService := availability.NewAvailabilityService(registry, refService, cacheService, groupService, notifier)

	// 启动对账：清理上次运行遗留的状态
	if err := ledgerService.ReconcilePending(); err != nil {
		logger.Fatalf("Failed to reconcile pending requests: %v", err)
	}
	if err := cacheService.Reconcile(); err != nil {
		logger.Fatalf("Failed to reconcile cache files: %v", err)
	}

	// 初始化批量接入管道与作业调度器
	orch := orchestrator.NewOrchestrator(refService, availService, groupService)
	pipeline := ingest.NewPipeline(&cfg.Ingest, groupService, orch)
	dispatcher := jobs.NewDispatcher(db, registry, ledgerService, refService, refService, refService, cacheService, cacheService)
	dispatcher.Start(time.Duration(cfg.Cache.ScheduleMs) * time.Millisecond)

	// 缓存淘汰定时扫描
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Cache.SweepIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if err := cacheService.Sweep(); err != nil {
					logger.Errorf("Cache sweep failed: %v", err)
				}
			}
		}
	}()

	// 初始化路由
	r := router.NewRouter(loggerMiddleware, db, pipeline, ledgerService, refService, groupService, cacheService, registry)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r.GetEngine(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 启动HTTP服务器
	go func() {
		logger.Infof("HTTP服务器启动在端口 %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	// 停止接入管道和调度器，排空在途批次与作业
	pipeline.Stop()
	dispatcher.Stop()
	cancelSweep()

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("HTTP服务器强制关闭: %v", err)
	}

	logger.Info("服务器已退出")
}
