// Package consumer 实现位置报文的接入通道（MQTT、Redis Streams、HTTP 轮询）。
// 所有通道都通过 codec 解码，再调用唯一入口 Sink.HandleBatch。
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sagerspace-tracker/internal/codec"
	"sagerspace-tracker/internal/models"

	"go.uber.org/zap"
)

// ErrDecode 负载无法解码（不可重试）
var ErrDecode = errors.New("undecodable payload")

// Sink 报文批次的接收方（TrackerService）
type Sink interface {
	HandleBatch(ctx context.Context, reports []models.PositionReport) error
}

// StatusReporter 连接状态上报（仅展示）
type StatusReporter interface {
	SetIngestStatus(adapter string, status models.ConnectivityStatus, err error)
}

// Stats 通道统计
type Stats struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	ReportsDelivered  int64
	ReportsDropped    int64 // 结构上无法使用的条目

	ErrorsDecode int64
	ErrorsSink   int64

	LastMessageTime time.Time
	StartTime       time.Time
}

// GetSnapshot 获取统计快照（线程安全）
func (s *Stats) GetSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		MessagesProcessed: s.MessagesProcessed,
		MessagesSucceeded: s.MessagesSucceeded,
		MessagesFailed:    s.MessagesFailed,
		ReportsDelivered:  s.ReportsDelivered,
		ReportsDropped:    s.ReportsDropped,
		ErrorsDecode:      s.ErrorsDecode,
		ErrorsSink:        s.ErrorsSink,
		LastMessageTime:   s.LastMessageTime,
		StartTime:         s.StartTime,
	}
}

func (s *Stats) incrementProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesProcessed++
	s.LastMessageTime = time.Now()
}

func (s *Stats) incrementSucceeded(delivered, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesSucceeded++
	s.ReportsDelivered += int64(delivered)
	s.ReportsDropped += int64(dropped)
}

func (s *Stats) incrementFailed(errorType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessagesFailed++
	switch errorType {
	case "decode":
		s.ErrorsDecode++
	case "sink":
		s.ErrorsSink++
	}
}

// deliverer 各通道共用的 解码 -> 投递 流程
type deliverer struct {
	name   string
	sink   Sink
	stats  *Stats
	logger *zap.Logger
}

func newDeliverer(name string, sink Sink, logger *zap.Logger) *deliverer {
	return &deliverer{
		name:   name,
		sink:   sink,
		stats:  &Stats{StartTime: time.Now()},
		logger: logger,
	}
}

func (d *deliverer) deliver(ctx context.Context, payload []byte) error {
	d.stats.incrementProcessed()

	reports, dropped, err := codec.Decode(payload, time.Now())
	if err != nil {
		d.stats.incrementFailed("decode")
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dropped > 0 {
		d.logger.Debug("Dropped unusable features",
			zap.String("adapter", d.name),
			zap.Int("dropped", dropped),
		)
	}
	if len(reports) > 0 {
		if err := d.sink.HandleBatch(ctx, reports); err != nil {
			d.stats.incrementFailed("sink")
			return fmt.Errorf("failed to handle batch: %w", err)
		}
	}

	d.stats.incrementSucceeded(len(reports), dropped)
	return nil
}

// reportStats 定期输出通道统计
func reportStats(ctx context.Context, name string, stats *Stats, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}
			logger.Info("Ingest stats report",
				zap.String("adapter", name),
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Float64("success_rate", successRate),
				zap.Int64("reports_delivered", snapshot.ReportsDelivered),
				zap.Int64("reports_dropped", snapshot.ReportsDropped),
				zap.Int64("errors_decode", snapshot.ErrorsDecode),
				zap.Int64("errors_sink", snapshot.ErrorsSink),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}

const statsReportInterval = 60 * time.Second
