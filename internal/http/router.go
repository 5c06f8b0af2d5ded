package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/config"
	"github.com/wenwu/saas-platform/pterodactyl-service/internal/service"
)

// RateLimiter 简单的内存速率限制器
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // 最大请求数
	window   time.Duration // 时间窗口
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	// 清理过期请求
	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	// 检查是否超过限制
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	// 记录新请求
	rl.requests[key] = append(valid, now)
	return true
}

// RateLimitMiddleware 速率限制中间件
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 使用客户 ID 或 IP 作为限制 key
		key := c.ClientIP()
		if id := c.GetInt64("clientID"); id != 0 {
			key = strconv.FormatInt(id, 10)
		}

		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
}

// 客户 API 速率限制器: 每客户每分钟最多 30 次请求
var clientRateLimiter = NewRateLimiter(30, time.Minute)

// 变量更新速率限制器: 每客户每小时最多 20 次（面板 startup 接口较慢）
var variableRateLimiter = NewRateLimiter(20, time.Hour)

func NewServer(cfg *config.Config, provisionService *service.ProvisionService) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	handler := NewHandler(provisionService)

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "pterodactyl-service",
		})
	})

	// Admin API - called by the billing system backend
	admin := s.router.Group("/api/admin")
	admin.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		// Order lifecycle
		admin.POST("/orders/create", s.handler.CreateService)
		admin.POST("/orders/provision", s.handler.Provision)
		admin.POST("/orders/suspend", s.handler.Suspend)
		admin.POST("/orders/unsuspend", s.handler.Unsuspend)
		admin.POST("/orders/unprovision", s.handler.Unprovision)
		admin.POST("/orders/cancel", s.handler.Cancel)
		admin.POST("/orders/uncancel", s.handler.Uncancel)
		admin.POST("/orders/renew", s.handler.Renew)
		admin.POST("/orders/sync-status", s.handler.SyncStatus)
		admin.PUT("/orders/server", s.handler.UpdateServer)
		admin.GET("/orders/:id/logs", s.handler.GetProvisionLogs)

		// Module settings
		admin.GET("/settings", s.handler.GetSettings)
		admin.PUT("/settings", s.handler.SaveSettings)
		admin.GET("/test-connection", s.handler.TestConnection)

		// Panel catalog (product configuration forms)
		admin.GET("/nodes", s.handler.GetNodes)
		admin.GET("/locations", s.handler.GetLocations)
		admin.GET("/eggs", s.handler.GetEggs)
		admin.GET("/eggs/:id", s.handler.GetEgg)

		// Direct server access
		admin.GET("/servers/:id", s.handler.GetServerInfo)
		admin.GET("/servers/:id/status", s.handler.GetServerStatus)
		admin.GET("/servers/:id/variables", s.handler.GetServerVariables)
		admin.PUT("/servers/:id/variables", s.handler.UpdateServerVariables)
	}

	// Client API - requires JWT authentication
	client := s.router.Group("/api/v1")
	client.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	client.Use(RateLimitMiddleware(clientRateLimiter))
	{
		client.GET("/orders/:id/service", s.handler.GetMyService)
		client.GET("/orders/:id/sso", s.handler.GetMySSOUrl)
		client.GET("/orders/:id/variables", s.handler.GetMyVariables)
		client.PUT("/orders/:id/variables", RateLimitMiddleware(variableRateLimiter), s.handler.UpdateMyVariables)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
