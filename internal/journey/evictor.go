package journey

import (
	"context"
	"time"

	"sagerspace-tracker/internal/timeutil"

	"go.uber.org/zap"
)

// DefaultStaleWindow 默认过期窗口
const DefaultStaleWindow = 30 * time.Second

// Evictor 周期清扫调度：间隔固定为窗口的三分之一，最坏超时偏差不超过一个间隔
type Evictor struct {
	window   time.Duration
	interval time.Duration
	clock    timeutil.Clock
	logger   *zap.Logger
}

// NewEvictor 创建清扫调度器，window<=0 时使用默认窗口
func NewEvictor(window time.Duration, clock timeutil.Clock, logger *zap.Logger) *Evictor {
	if window <= 0 {
		window = DefaultStaleWindow
	}
	return &Evictor{
		window:   window,
		interval: window / 3,
		clock:    clock,
		logger:   logger,
	}
}

func (e *Evictor) Window() time.Duration { return e.window }

func (e *Evictor) Interval() time.Duration { return e.interval }

// Run 阻塞运行直到 ctx 取消；每个周期调用一次 sweep（由调用方串行化到变更队列）
func (e *Evictor) Run(ctx context.Context, sweep func(now time.Time)) {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("Evictor started",
		zap.Duration("window", e.window),
		zap.Duration("interval", e.interval),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Evictor stopped")
			return
		case now := <-ticker.C():
			sweep(now)
		}
	}
}
