package consumer

import (
	"context"
	"fmt"
	"sync"

	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/mqtt"

	"go.uber.org/zap"
)

// MQTTSubscriber MQTT 客户端能力（internal/mqtt.Client 实现）
type MQTTSubscriber interface {
	OnConnectionChange(fn mqtt.ConnectionHandler)
	Connect() error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// MQTTConsumer 订阅位置主题，每条消息解码后作为一个批次投递
type MQTTConsumer struct {
	client MQTTSubscriber
	topic  string
	qos    byte
	status StatusReporter
	logger *zap.Logger
	*deliverer

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMQTTConsumer 创建 MQTT 接入通道
func NewMQTTConsumer(client MQTTSubscriber, topic string, qos byte, sink Sink, status StatusReporter, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		client:    client,
		topic:     topic,
		qos:       qos,
		status:    status,
		logger:    logger,
		deliverer: newDeliverer("mqtt", sink, logger),
	}
}

// Name 通道名
func (c *MQTTConsumer) Name() string { return "mqtt" }

// Start 连接并订阅；断线重连与重新订阅由 MQTT 客户端处理
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	c.client.OnConnectionChange(func(connected bool, err error) {
		if connected {
			c.status.SetIngestStatus(c.Name(), models.StatusConnected, nil)
			return
		}
		c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, err)
	})

	c.status.SetIngestStatus(c.Name(), models.StatusConnecting, nil)
	if err := c.client.Connect(); err != nil {
		c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, err)
		return err
	}
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, err)
		return fmt.Errorf("failed to subscribe position topic: %w", err)
	}
	c.status.SetIngestStatus(c.Name(), models.StatusConnected, nil)

	go reportStats(runCtx, c.Name(), c.stats, statsReportInterval, c.logger)

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
		zap.Uint8("qos", c.qos),
	)
	return nil
}

// Stop 取消订阅并断开
func (c *MQTTConsumer) Stop() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	err := c.client.Unsubscribe(c.topic)
	c.client.Disconnect()
	c.status.SetIngestStatus(c.Name(), models.StatusDisconnected, nil)
	c.logger.Info("MQTT consumer stopped", zap.String("topic", c.topic))
	return err
}

// Stats 通道统计快照
func (c *MQTTConsumer) Stats() Stats {
	return c.stats.GetSnapshot()
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.deliver(ctx, payload); err != nil {
		return fmt.Errorf("topic %s: %w", topic, err)
	}
	return nil
}
