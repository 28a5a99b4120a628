package reconciler

import "sagerspace-tracker/internal/models"

// OpKind 地图面操作类型
type OpKind string

const (
	OpCreateMarker OpKind = "create_marker"
	OpMoveMarker   OpKind = "move_marker"
	OpRemoveMarker OpKind = "remove_marker"
	OpCreateTrail  OpKind = "create_trail"
	OpUpdateTrail  OpKind = "update_trail"
	OpRemoveTrail  OpKind = "remove_trail"
)

// Operation 一次已执行的地图面操作（Err 非空表示执行失败）
type Operation struct {
	Kind        OpKind
	TrackID     string
	Handle      Handle
	Position    models.Coordinate
	Rotation    float64
	Coordinates []models.Coordinate
	Style       Style
	Err         error
}

// CountKinds 按类型统计（测试与日志用）
func CountKinds(ops []Operation) map[OpKind]int {
	out := make(map[OpKind]int)
	for _, op := range ops {
		out[op.Kind]++
	}
	return out
}
