package config

import (
	"fmt"
	"net/url"
)

// DatabaseConfig 注册表 PostgreSQL 连接配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置（Streams 接入与指标缓存共用）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN lib/pq URL 形式的连接串，密码中的特殊字符会被转义
func (c *DatabaseConfig) GetDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "sagerspace"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		MaxConns: getEnvInt("DB_MAX_CONNS", 5),
		MaxIdle:  getEnvInt("DB_MAX_IDLE", 2),
	}
}

func loadRedis() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

func loadMQTT() (MQTTConfig, error) {
	qos := getEnvInt("MQTT_QOS", 1)
	if qos < 0 || qos > 2 {
		return MQTTConfig{}, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}
	return MQTTConfig{
		Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		ClientID: getEnv("MQTT_CLIENT_ID", "sagerspace-tracker"),
		Username: getEnv("MQTT_USERNAME", ""),
		Password: getEnv("MQTT_PASSWORD", ""),
		QoS:      byte(qos),
	}, nil
}
