// Package router 提供HTTP路由配置
package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tiervault/tiervault/internal/handler"
	"github.com/tiervault/tiervault/internal/middleware"
	"github.com/tiervault/tiervault/internal/service/cache"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ingest"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/service/reference"
	"github.com/tiervault/tiervault/internal/storage"
	"gorm.io/gorm"
)

// Router 路由配置
type Router struct {
	engine *gin.Engine
	db     *gorm.DB
}

// NewRouter 创建路由实例
// 组件在进程启动时构建一次并传入，路由层不负责组件生命周期
func NewRouter(
	loggerMiddleware *middleware.LoggerMiddleware,
	db *gorm.DB,
	pipeline *ingest.Pipeline,
	ledgerService ledger.LedgerService,
	refService reference.ReferenceService,
	groupService group.GroupService,
	cacheService cache.CacheService,
	registry *storage.Registry,
) *Router {
	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	// 初始化处理器
	flowHandler := handler.NewFlowHandler(pipeline)
	adminHandler := handler.NewAdminHandler(ledgerService, refService, groupService, cacheService, registry)

	// 使用中间件
	engine.Use(gin.Recovery())
	engine.Use(loggerMiddleware.RequestID())
	engine.Use(loggerMiddleware.Logger())

	// 配置CORS
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 健康检查
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Service is running",
		})
	})

	// API路由组
	api := engine.Group("/api/v1")
	{
		// 基础信息接口
		api.GET("/info", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"service": "TierVault",
				"version": "1.0.0",
				"status":  "running",
			})
		})

		// 数据库状态检查
		api.GET("/db/status", func(c *gin.Context) {
			sqlDB, err := db.DB()
			if err != nil {
				c.JSON(500, gin.H{
					"error": "Database connection error",
				})
				return
			}

			if err := sqlDB.Ping(); err != nil {
				c.JSON(500, gin.H{
					"error": "Database ping failed",
				})
				return
			}

			c.JSON(200, gin.H{
				"status": "Database connection OK",
			})
		})

		// 流项接入接口
		flows := api.Group("/flow")
		{
			flows.POST("/storage", flowHandler.SubmitStorage)           // 批量存储
			flows.POST("/deletion", flowHandler.SubmitDeletion)         // 批量删除
			flows.POST("/availability", flowHandler.SubmitAvailability) // 批量可用性
			flows.POST("/copy", flowHandler.SubmitCopy)                 // 批量复制
		}

		// 文件引用查询接口
		references := api.Group("/references")
		{
			references.GET("", adminHandler.ListReferences)
			references.GET("/:checksum", adminHandler.GetReference)
		}

		// 请求台账运维接口
		requests := api.Group("/requests")
		{
			requests.GET("/:kind", adminHandler.ListRequests)           // 按状态/存储位置过滤
			requests.POST("/:kind/:id/retry", adminHandler.RetryRequest) // ERROR重置为TODO
		}

		// 分组查询接口
		groups := api.Group("/groups")
		{
			groups.GET("", adminHandler.ListOpenGroups)
			groups.GET("/:group_id", adminHandler.GetGroup)
		}

		// 缓存运维接口
		cacheRoutes := api.Group("/cache")
		{
			cacheRoutes.GET("/files", adminHandler.ListCacheFiles)
			cacheRoutes.GET("/usage", adminHandler.GetCacheUsage)
			cacheRoutes.POST("/sweep", adminHandler.TriggerCacheSweep)
		}

		// 存储位置查询接口
		api.GET("/storages", adminHandler.ListStorages)
	}

	return &Router{
		engine: engine,
		db:     db,
	}
}

// GetEngine 获取Gin引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// GetDB 获取数据库连接
func (r *Router) GetDB() *gorm.DB {
	return r.db
}
