package handler

import (
	"ledgerpay/internal/config"
	"ledgerpay/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, factory *gateway.ClientFactory) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, factory)

	// 网关回调不走 /api 前缀，路径在网关侧配置
	r.POST("/pay/:channel/notify", h.GatewayNotify)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账本相关
		ledger := api.Group("/ledger")
		{
			ledger.GET("/balance", h.GetBalances)
			ledger.GET("/entries", h.ListEntries)
		}

		// 充值相关
		recharge := api.Group("/recharge")
		{
			recharge.GET("/tiers", h.ListTiers)
			recharge.POST("/order", h.CreateOrder)
			recharge.POST("/pay", h.InitiatePayment)
			recharge.GET("/status", h.CheckStatus)
			recharge.GET("/orders", h.ListOrders)
		}

		// 签到 / 拉新
		api.POST("/checkin", h.Checkin)
		api.POST("/pullnew", h.PullNew)

		// 后台相关
		admin := api.Group("/admin")
		{
			admin.POST("/adjust", h.AdminAdjust)
			admin.POST("/refund", h.AdminRefund)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
