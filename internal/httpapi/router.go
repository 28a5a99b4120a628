// Package httpapi 对外 HTTP 接口：指标、在飞列表、航迹详情、聚焦与选中、连接状态、导出和 websocket 地图面。
package httpapi

import (
	"context"
	"net/http"
	"time"

	"sagerspace-tracker/internal/metrics"
	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Tracker HTTP 层依赖的跟踪服务能力
type Tracker interface {
	Metrics(ctx context.Context) (metrics.Counts, error)
	ActiveTracks(ctx context.Context) ([]models.TrackSummary, error)
	Track(ctx context.Context, trackID string) (models.Journey, error)
	Focus(ctx context.Context, trackID string) error
	Select(ctx context.Context, trackID string) error
	Status(ctx context.Context) (service.Status, error)
}

// Config 路由依赖
type Config struct {
	Tracker Tracker
	// WebSocket 地图面客户端入口（可选）
	WebSocket http.Handler
	// Prometheus 抓取入口（可选）
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter 创建 gin 路由
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors())

	h := &Handler{tracker: cfg.Tracker, logger: logger}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/metrics", h.GetMetrics)
		api.GET("/status", h.GetStatus)
		api.GET("/tracks", h.ListActiveTracks)
		api.GET("/tracks/export.xlsx", h.ExportActiveTracks)
		api.GET("/tracks/:id", h.GetTrack)
		api.POST("/tracks/:id/focus", h.FocusTrack)
		api.POST("/tracks/:id/select", h.SelectTrack)
		api.GET("/flights/search", h.SearchFlights)
	}

	if cfg.WebSocket != nil {
		r.GET("/ws", gin.WrapH(cfg.WebSocket))
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return r
}

// cors 跨域中间件
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
