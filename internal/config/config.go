package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// 支持的接入方式
const (
	IngestModeMQTT   = "mqtt"
	IngestModeStream = "stream"
	IngestModePoll   = "poll"
)

// Config 航迹跟踪服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 航迹状态配置
	Tracking struct {
		// 超过该时长未收到报文的航迹会被清除（默认 30 秒）
		StaleWindow time.Duration
		// 清扫间隔，固定为窗口的三分之一
		SweepInterval time.Duration
		// 调试模式下发现空历史航迹直接 panic
		DebugInvariants bool
	}

	// 数据接入配置
	Ingest struct {
		Mode string // "mqtt" / "stream" / "poll"

		MQTT struct {
			Topic string // 如 "drones/+/positions"
		}

		// Redis Streams 配置
		Stream struct {
			Name          string
			ConsumerGroup string
			ConsumerName  string
			BatchSize     int
			Block         time.Duration
		}

		// HTTP 轮询配置
		Poll struct {
			URL      string
			Interval time.Duration
		}
	}

	// 注册表补全（可选，读取 PostgreSQL）
	Registry struct {
		Enabled bool
	}

	// 指标缓存（写入 Redis）
	MetricsCache struct {
		Enabled bool
		TTL     time.Duration
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = loadDatabase()
	cfg.Redis = loadRedis()
	mqttCfg, err := loadMQTT()
	if err != nil {
		return nil, err
	}
	cfg.MQTT = mqttCfg

	windowSeconds := getEnvInt("TRACK_STALE_WINDOW_SECONDS", 30)
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("TRACK_STALE_WINDOW_SECONDS must be positive, got %d", windowSeconds)
	}
	cfg.Tracking.StaleWindow = time.Duration(windowSeconds) * time.Second
	cfg.Tracking.SweepInterval = cfg.Tracking.StaleWindow / 3
	cfg.Tracking.DebugInvariants = getEnv("TRACK_DEBUG_INVARIANTS", "false") == "true"

	cfg.Ingest.Mode = getEnv("INGEST_MODE", IngestModeMQTT)
	switch cfg.Ingest.Mode {
	case IngestModeMQTT, IngestModeStream, IngestModePoll:
	default:
		return nil, fmt.Errorf("unsupported INGEST_MODE: %s", cfg.Ingest.Mode)
	}
	cfg.Ingest.MQTT.Topic = getEnv("MQTT_TOPIC", "drones/+/positions")
	cfg.Ingest.Stream.Name = getEnv("TRACK_STREAM", "drone:positions:stream")
	cfg.Ingest.Stream.ConsumerGroup = getEnv("TRACK_CONSUMER_GROUP", "sagerspace-tracker-group")
	cfg.Ingest.Stream.ConsumerName = getEnv("TRACK_CONSUMER_NAME", "sagerspace-tracker-1")
	cfg.Ingest.Stream.BatchSize = getEnvInt("TRACK_BATCH_SIZE", 10)
	cfg.Ingest.Stream.Block = 5 * time.Second
	cfg.Ingest.Poll.URL = getEnv("POLL_URL", "http://localhost:9013/positions")
	cfg.Ingest.Poll.Interval = time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond

	cfg.Registry.Enabled = getEnv("REGISTRY_ENABLED", "false") == "true"

	cfg.MetricsCache.Enabled = getEnv("METRICS_CACHE_ENABLED", "true") == "true"
	cfg.MetricsCache.TTL = time.Duration(getEnvInt("METRICS_CACHE_TTL_SECONDS", 10)) * time.Second

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":9013")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 非法值回退到默认值
func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}
