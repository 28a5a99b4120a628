package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/timeutil"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Poller 定时拉取 HTTP 接口的 FeatureCollection
type Poller struct {
	httpClient *resty.Client
	url        string
	interval   time.Duration
	clock      timeutil.Clock
	status     StatusReporter
	logger     *zap.Logger
	*deliverer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller 创建轮询通道
func NewPoller(url string, interval time.Duration, clock timeutil.Clock, sink Sink, status StatusReporter, logger *zap.Logger) *Poller {
	client := resty.New().
		SetTimeout(interval).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	return &Poller{
		httpClient: client,
		url:        url,
		interval:   interval,
		clock:      clock,
		status:     status,
		logger:     logger,
		deliverer:  newDeliverer("poll", sink, logger),
	}
}

// Name 通道名
func (p *Poller) Name() string { return "poll" }

// Start 立即拉取一次，之后按间隔拉取
func (p *Poller) Start(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("invalid poll interval: %v", p.interval)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.status.SetIngestStatus(p.Name(), models.StatusConnecting, nil)

	ticker := p.clock.NewTicker(p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()

		p.poll(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C():
				p.poll(runCtx)
			}
		}
	}()

	p.logger.Info("Poller started",
		zap.String("url", p.url),
		zap.Duration("interval", p.interval),
	)
	return nil
}

// Stop 停止轮询
func (p *Poller) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.status.SetIngestStatus(p.Name(), models.StatusDisconnected, nil)
	p.logger.Info("Poller stopped", zap.String("url", p.url))
	return nil
}

// Stats 通道统计快照
func (p *Poller) Stats() Stats {
	return p.stats.GetSnapshot()
}

func (p *Poller) poll(ctx context.Context) {
	resp, err := p.httpClient.R().SetContext(ctx).Get(p.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.status.SetIngestStatus(p.Name(), models.StatusDisconnected, err)
		p.logger.Error("Poll request failed", zap.String("url", p.url), zap.Error(err))
		return
	}
	if resp.IsError() {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode())
		p.status.SetIngestStatus(p.Name(), models.StatusDisconnected, err)
		p.logger.Error("Poll request rejected",
			zap.String("url", p.url),
			zap.Int("status_code", resp.StatusCode()),
		)
		return
	}

	p.status.SetIngestStatus(p.Name(), models.StatusConnected, nil)
	if err := p.deliver(ctx, resp.Body()); err != nil {
		p.logger.Error("Failed to process poll response", zap.Error(err))
	}
}
