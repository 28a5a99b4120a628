// Package codec 把上游负载解码为 PositionReport。
//
// 支持两种格式：
//   - GeoJSON FeatureCollection / Feature（Point 几何，属性 registration/serial/Name/altitude/yaw/pilot/organization）
//   - 扁平 JSON 对象或数组（trackId/lat/lng/altitudeMeters/headingDegrees ...）
//   - 不带 type 的 {"features": [...]} 批次，元素可以是扁平对象，也可以是带 geometry 的 Feature
//
// 未知字段忽略。结构上无法使用的条目计入 dropped；字段取值校验（坐标范围等）留给 JourneyStore。
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"sagerspace-tracker/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrEmptyPayload 空负载
var ErrEmptyPayload = errors.New("empty payload")

// flatReport 扁平格式；指针字段用于区分"缺失"和"零值"
type flatReport struct {
	TrackID        string   `json:"trackId"`
	Registration   string   `json:"registration"`
	Serial         string   `json:"serial"`
	Name           string   `json:"name"`
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
	AltitudeMeters *float64 `json:"altitudeMeters"`
	HeadingDegrees float64  `json:"headingDegrees"`
	Organization   string   `json:"organization"`
	Pilot          string   `json:"pilot"`
	Timestamp      int64    `json:"timestamp"`
}

type envelope struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// batchElement 批次元素；有 geometry 的按 Feature 处理
type batchElement struct {
	Type       string             `json:"type"`
	Geometry   json.RawMessage    `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
}

// Decode 解码一条负载；receivedAt 为报文缺少时间戳时的观测时间
func Decode(payload []byte, receivedAt time.Time) ([]models.PositionReport, int, error) {
	data := bytes.TrimSpace(payload)
	if len(data) == 0 {
		return nil, 0, ErrEmptyPayload
	}

	if data[0] == '[' {
		var items []flatReport
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, fmt.Errorf("failed to decode report array: %w", err)
		}
		reports := make([]models.PositionReport, 0, len(items))
		for _, item := range items {
			reports = append(reports, item.toReport(receivedAt))
		}
		return reports, 0, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("failed to decode payload: %w", err)
	}

	switch env.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode feature collection: %w", err)
		}
		return decodeFeatures(fc.Features, receivedAt)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode feature: %w", err)
		}
		return decodeFeatures([]*geojson.Feature{f}, receivedAt)
	}

	if env.Features != nil {
		reports, dropped := decodeBatch(env.Features, receivedAt)
		return reports, dropped, nil
	}

	var item flatReport
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, 0, fmt.Errorf("failed to decode report: %w", err)
	}
	return []models.PositionReport{item.toReport(receivedAt)}, 0, nil
}

func decodeBatch(elements []json.RawMessage, receivedAt time.Time) ([]models.PositionReport, int) {
	reports := make([]models.PositionReport, 0, len(elements))
	dropped := 0
	for _, raw := range elements {
		report, ok := decodeBatchElement(raw, receivedAt)
		if !ok {
			dropped++
			continue
		}
		reports = append(reports, report)
	}
	return reports, dropped
}

func decodeBatchElement(raw json.RawMessage, receivedAt time.Time) (models.PositionReport, bool) {
	if isAbsent(raw) {
		return models.PositionReport{}, false
	}
	var el batchElement
	if err := json.Unmarshal(raw, &el); err != nil {
		return models.PositionReport{}, false
	}
	if el.Type != "Feature" && isAbsent(el.Geometry) {
		var item flatReport
		if err := json.Unmarshal(raw, &item); err != nil {
			return models.PositionReport{}, false
		}
		return item.toReport(receivedAt), true
	}

	if isAbsent(el.Geometry) {
		return models.PositionReport{}, false
	}
	g, err := geojson.UnmarshalGeometry(el.Geometry)
	if err != nil {
		return models.PositionReport{}, false
	}
	f := geojson.NewFeature(g.Geometry())
	if el.Properties != nil {
		f.Properties = el.Properties
	}
	return FeatureToReport(f, receivedAt)
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeFeatures(features []*geojson.Feature, receivedAt time.Time) ([]models.PositionReport, int, error) {
	reports := make([]models.PositionReport, 0, len(features))
	dropped := 0
	for _, f := range features {
		report, ok := FeatureToReport(f, receivedAt)
		if !ok {
			dropped++
			continue
		}
		reports = append(reports, report)
	}
	return reports, dropped, nil
}

// FeatureToReport 只接受 Point 几何；坐标为 [lng, lat]
func FeatureToReport(f *geojson.Feature, receivedAt time.Time) (models.PositionReport, bool) {
	if f == nil {
		return models.PositionReport{}, false
	}
	point, ok := f.Geometry.(orb.Point)
	if !ok {
		return models.PositionReport{}, false
	}

	p := f.Properties
	return models.PositionReport{
		TrackID:           stringProp(p, "registration"),
		Serial:            stringProp(p, "serial"),
		Lng:               point.Lon(),
		Lat:               point.Lat(),
		AltitudeMeters:    floatProp(p, "altitude", math.NaN()),
		HeadingDegrees:    floatProp(p, "yaw", 0),
		ObservedAtEpochMs: observedAt(int64(floatProp(p, "timestamp", 0)), receivedAt),
		DisplayName:       stringProp(p, "Name"),
		OperatorName:      stringProp(p, "pilot"),
		OrganizationName:  stringProp(p, "organization"),
	}, true
}

func (f flatReport) toReport(receivedAt time.Time) models.PositionReport {
	id := f.TrackID
	if id == "" {
		id = f.Registration
	}
	return models.PositionReport{
		TrackID:           id,
		Serial:            f.Serial,
		Lat:               valueOrNaN(f.Lat),
		Lng:               valueOrNaN(f.Lng),
		AltitudeMeters:    valueOrNaN(f.AltitudeMeters),
		HeadingDegrees:    f.HeadingDegrees,
		ObservedAtEpochMs: observedAt(f.Timestamp, receivedAt),
		DisplayName:       f.Name,
		OperatorName:      f.Pilot,
		OrganizationName:  f.Organization,
	}
}

// 缺失的坐标/高度记为 NaN，由 PositionReport.Valid 拒绝；高度缺失不能当作 0（0 会删除航迹）
func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func observedAt(ts int64, receivedAt time.Time) int64 {
	if ts > 0 {
		return ts
	}
	return receivedAt.UnixMilli()
}

func stringProp(p geojson.Properties, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func floatProp(p geojson.Properties, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}
