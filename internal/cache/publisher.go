// Package cache 把最新的分类计数和在飞列表写入 Redis，供其他进程（看板、告警）读取。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sagerspace-tracker/internal/metrics"

	"go.uber.org/zap"
)

const (
	KeyMetrics     = "sagerspace:metrics:counts"
	KeyActiveTrack = "sagerspace:tracks:active"
)

// Publisher Redis 缓存发布器
type Publisher struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewPublisher 创建发布器；ttl 到期后键自动消失，进程退出不会留下陈旧数据
func NewPublisher(kv KVStore, ttl time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{kv: kv, ttl: ttl, logger: logger}
}

// PublishMetrics 实现 service.MetricsSink
func (p *Publisher) PublishMetrics(ctx context.Context, u metrics.Update) error {
	counts, err := json.Marshal(struct {
		Counts  metrics.Counts `json:"counts"`
		Total   int            `json:"total"`
		TakenAt int64          `json:"taken_at"`
	}{u.Counts, u.Total, u.TakenAtEpochMs})
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	active, err := json.Marshal(u.Active)
	if err != nil {
		return fmt.Errorf("failed to marshal active tracks: %w", err)
	}

	if err := p.kv.SetAll(ctx, map[string]string{
		KeyMetrics:     string(counts),
		KeyActiveTrack: string(active),
	}, p.ttl); err != nil {
		return fmt.Errorf("failed to update metrics cache: %w", err)
	}

	p.logger.Debug("Updated metrics cache",
		zap.Int("total", u.Total),
		zap.Int("active", len(u.Active)),
	)
	return nil
}

// CachedMetrics 读取缓存中的计数
func (p *Publisher) CachedMetrics(ctx context.Context) (metrics.Counts, error) {
	raw, err := p.kv.Get(ctx, KeyMetrics)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Counts metrics.Counts `json:"counts"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached metrics: %w", err)
	}
	return decoded.Counts, nil
}

// Clear 关闭时删除已发布的键
func (p *Publisher) Clear(ctx context.Context) error {
	err := p.kv.Del(ctx, KeyMetrics, KeyActiveTrack)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("failed to clear metrics cache: %w", err)
	}
	return nil
}
