package models

import (
	"math"
	"strings"
)

// Coordinate 经纬度坐标（与地图面一致：lng 在前）
type Coordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// PositionReport 单条位置报文（不可变）
type PositionReport struct {
	TrackID           string  `json:"track_id"` // 注册号，如 "JO-B001"
	Serial            string  `json:"serial"`
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	AltitudeMeters    float64 `json:"altitude_meters"`
	HeadingDegrees    float64 `json:"heading_degrees"` // 0-360，正北顺时针
	ObservedAtEpochMs int64   `json:"observed_at_epoch_ms"`
	DisplayName       string  `json:"display_name"`
	OperatorName      string  `json:"operator_name"`
	OrganizationName  string  `json:"organization_name"`
}

// Valid 缺少身份或坐标的报文在进入存储前丢弃
func (r PositionReport) Valid() bool {
	if strings.TrimSpace(r.TrackID) == "" {
		return false
	}
	for _, v := range []float64{r.Lat, r.Lng, r.AltitudeMeters, r.HeadingDegrees} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Lat >= -90 && r.Lat <= 90 && r.Lng >= -180 && r.Lng <= 180
}

// Airborne 高度为正视为在飞
func (r PositionReport) Airborne() bool {
	return r.AltitudeMeters > 0
}

func (r PositionReport) Coordinate() Coordinate {
	return Coordinate{Lng: r.Lng, Lat: r.Lat}
}

// Journey 单条航迹的累积状态，只由 JourneyStore 持有和修改
type Journey struct {
	TrackID            string
	History            []PositionReport
	Current            PositionReport
	FirstSeenEpochMs   int64
	LastUpdatedEpochMs int64
}

// HasCurrent 历史非空时 Current 才有意义
func (j Journey) HasCurrent() bool {
	return len(j.History) > 0
}

// Coordinates 历史轨迹坐标序列（按接收顺序）
func (j Journey) Coordinates() []Coordinate {
	coords := make([]Coordinate, len(j.History))
	for i, r := range j.History {
		coords[i] = r.Coordinate()
	}
	return coords
}

// TrackSummary 在飞航迹列表项（侧边栏 / 导出）
type TrackSummary struct {
	TrackID          string     `json:"track_id"`
	Serial           string     `json:"serial"`
	DisplayName      string     `json:"display_name"`
	OperatorName     string     `json:"operator_name"`
	OrganizationName string     `json:"organization_name"`
	Category         Category   `json:"category"`
	Position         Coordinate `json:"position"`
	AltitudeMeters   float64    `json:"altitude_meters"`
	HeadingDegrees   float64    `json:"heading_degrees"`
	HistoryLength    int        `json:"history_length"`
	FirstSeenAt      int64      `json:"first_seen_at"`
	LastUpdatedAt    int64      `json:"last_updated_at"`
}

// Summary 由 Journey 生成列表项
func (j Journey) Summary() TrackSummary {
	return TrackSummary{
		TrackID:          j.TrackID,
		Serial:           j.Current.Serial,
		DisplayName:      j.Current.DisplayName,
		OperatorName:     j.Current.OperatorName,
		OrganizationName: j.Current.OrganizationName,
		Category:         CategoryOf(j.TrackID),
		Position:         j.Current.Coordinate(),
		AltitudeMeters:   j.Current.AltitudeMeters,
		HeadingDegrees:   j.Current.HeadingDegrees,
		HistoryLength:    len(j.History),
		FirstSeenAt:      j.FirstSeenEpochMs,
		LastUpdatedAt:    j.LastUpdatedEpochMs,
	}
}
