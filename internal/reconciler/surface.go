package reconciler

import (
	"errors"

	"sagerspace-tracker/internal/models"
)

var (
	// ErrSurfaceUnavailable 地图面已关闭，本轮剩余操作直接丢弃
	ErrSurfaceUnavailable = errors.New("render surface unavailable")
	// ErrHandleNotFound 地图面上不存在该对象
	ErrHandleNotFound = errors.New("surface handle not found")
)

// Handle 地图面对象句柄（对调用方不透明）
type Handle string

// Style 标记/轨迹样式
type Style struct {
	Category models.Category `json:"category"`
	Color    string          `json:"color"`
	Opacity  float64         `json:"opacity"`
}

// Surface 有状态的地图绘制能力；只允许 Reconciler 调用
type Surface interface {
	CreateMarker(trackID string, position models.Coordinate, rotation float64, style Style) (Handle, error)
	MoveMarker(h Handle, position models.Coordinate, rotation float64) error
	RemoveMarker(h Handle) error
	CreateTrailLayer(trackID string, coords []models.Coordinate, style Style) (Handle, error)
	UpdateTrailLayer(h Handle, coords []models.Coordinate) error
	RemoveTrailLayer(h Handle) error
}

// Camera 视角控制（聚焦请求用，不改变地图对象）
type Camera interface {
	CenterOn(position models.Coordinate) error
}
