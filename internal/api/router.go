package api

import (
	"context"
	"net/http"
	"time"

	"StreakSync/internal/auth"
	"StreakSync/internal/config"
	"StreakSync/internal/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger /readyz 使用，*sql.DB 满足该接口
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps 路由依赖
type RouterDeps struct {
	Config   *config.Config
	Refresh  *RefreshHandler
	Streaks  *StreakHandler
	Admins   auth.AdminChecker
	Metrics  *metrics.Metrics
	DB       Pinger
	Logger   *logrus.Logger
	Profiler bool // 注册 pprof
}

// NewRouter 注册全部路由
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))
	r.Use(cors.New(corsConfig(d.Config.Server.CORSOrigins)))

	if d.Profiler {
		// 注册ppof 方便调试和监测性能问题
		pprof.Register(r)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if d.DB == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database not configured"})
			return
		}
		if err := d.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// 刷新接口：共享密钥（定时任务调用）
	refresh := r.Group("/refresh", RequireSecret(d.Config.Refresh.Secret))
	refresh.POST("/players-and-streaks", d.Refresh.PlayersAndStreaks)
	refresh.POST("/games-today", d.Refresh.GamesToday)

	// 管理员手动刷新：JWT + is_admin
	jwtCfg := auth.JWT{Secret: []byte(d.Config.Auth.JWTSecret), Issuer: d.Config.Auth.Issuer}
	r.POST("/admin/refresh", auth.RequireAdmin(jwtCfg, d.Admins, d.Logger), d.Refresh.AdminRefresh)

	// 查询接口（给前端页面用）
	api := r.Group("/api")
	api.GET("/streaks", d.Streaks.ListStreaks)
	api.GET("/streaks/entity/:entity_type/:entity_id", d.Streaks.EntityStreaks)
	api.GET("/streak-events", d.Streaks.RecentEvents)
	api.GET("/refresh-status", d.Streaks.RefreshStatus)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", HeaderRefreshSecret},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// requestLogger 用 logrus 记录访问日志
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("请求失败")
			return
		}
		entry.Debug("请求完成")
	}
}
