package models

// ConnectivityStatus 接入通道连接状态，仅用于展示，不影响航迹状态
type ConnectivityStatus string

const (
	StatusConnecting   ConnectivityStatus = "connecting"
	StatusConnected    ConnectivityStatus = "connected"
	StatusDisconnected ConnectivityStatus = "disconnected"
)

// IngestStatus 单个接入通道的最新状态
type IngestStatus struct {
	Adapter   string             `json:"adapter"`
	Status    ConnectivityStatus `json:"status"`
	LastError string             `json:"last_error,omitempty"`
	UpdatedAt int64              `json:"updated_at"`
}
