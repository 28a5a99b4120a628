package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sagerspace-tracker/internal/models"
	rediscommon "sagerspace-tracker/internal/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConfig Redis Streams 通道配置
type StreamConfig struct {
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
}

// StreamConsumer Redis Streams 消费者
type StreamConsumer struct {
	config      StreamConfig
	redisClient *redis.Client
	status      StatusReporter
	logger      *zap.Logger
	*deliverer

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pendingCursor 非空时先重放上次未确认的消息，每次 Start 只扫一遍
	pendingCursor string

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(redisClient *redis.Client, cfg StreamConfig, sink Sink, status StatusReporter, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:         cfg,
		redisClient:    redisClient,
		status:         status,
		logger:         logger,
		deliverer:      newDeliverer("stream", sink, logger),
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// Name 通道名
func (c *StreamConsumer) Name() string { return "stream" }

// Start 创建消费者组并在后台启动消费循环
func (c *StreamConsumer) Start(ctx context.Context) error {
	c.status.SetIngestStatus(c.Name(), models.StatusConnecting, nil)
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Stream, c.config.ConsumerGroup); err != nil {
		c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, err)
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Stream, err)
	}
	c.status.SetIngestStatus(c.Name(), models.StatusConnected, nil)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pendingCursor = "0"

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.ConsumerGroup),
		zap.String("consumer_name", c.config.ConsumerName),
		zap.String("stream", c.config.Stream),
	)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		reportStats(runCtx, c.Name(), c.stats, statsReportInterval, c.logger)
	}()
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()
	return nil
}

// Stop 停止消费循环并等待退出
func (c *StreamConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, nil)
	c.logger.Info("Stream consumer stopped", zap.String("stream", c.config.Stream))
	return nil
}

// Stats 通道统计快照
func (c *StreamConsumer) Stats() Stats {
	return c.stats.GetSnapshot()
}

func (c *StreamConsumer) run(ctx context.Context) {
	backoff := c.initialBackoff
	connected := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.consumeStream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if connected {
				c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, err)
				connected = false
			}
			c.logger.Error("Failed to consume stream",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			// 指数退避：等待后重试
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > c.maxBackoff {
					backoff = c.maxBackoff
				}
			}
			continue
		}

		if !connected {
			c.status.SetIngestStatus(c.Name(), models.StatusConnected, nil)
			connected = true
		}
		backoff = c.initialBackoff
	}
}

// consumeStream 读取并处理一批消息
// 解码失败的消息直接确认（重试无意义）；投递失败的消息保留在 pending 列表，下次 Start 时重放
func (c *StreamConsumer) consumeStream(ctx context.Context) error {
	if c.pendingCursor != "" {
		return c.replayPending(ctx)
	}

	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Stream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.config.BatchSize,
		c.config.Block,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}
	return c.process(ctx, messages)
}

// replayPending 按游标向后扫描 pending 列表，扫完后切换到新消息
func (c *StreamConsumer) replayPending(ctx context.Context) error {
	messages, err := rediscommon.ReadPendingFromStream(
		ctx,
		c.redisClient,
		c.config.Stream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.pendingCursor,
		c.config.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read pending messages: %w", err)
	}
	if len(messages) == 0 {
		c.pendingCursor = ""
		return nil
	}

	c.logger.Info("Replaying pending stream messages",
		zap.String("stream", c.config.Stream),
		zap.Int("count", len(messages)),
	)
	c.pendingCursor = messages[len(messages)-1].ID
	return c.process(ctx, messages)
}

func (c *StreamConsumer) process(ctx context.Context, messages []rediscommon.StreamMessage) error {
	acks := make([]string, 0, len(messages))
	for _, msg := range messages {
		payload, ok := msg.Payload()
		if !ok {
			c.stats.incrementFailed("decode")
			c.logger.Warn("Missing data field in stream message", zap.String("stream_id", msg.ID))
			acks = append(acks, msg.ID)
			continue
		}

		if err := c.deliver(ctx, payload); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			if !errors.Is(err, ErrDecode) {
				continue
			}
		}
		acks = append(acks, msg.ID)
	}

	if err := rediscommon.Ack(ctx, c.redisClient, c.config.Stream, c.config.ConsumerGroup, acks...); err != nil {
		return fmt.Errorf("failed to ack messages: %w", err)
	}
	return nil
}
