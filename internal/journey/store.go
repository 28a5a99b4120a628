// Package journey 维护 TrackID → Journey 的权威映射，负责报文折叠和过期清扫。
// Store 不加锁：所有读写都由 service 的单一变更队列串行调用。
package journey

import (
	"fmt"
	"time"

	"sagerspace-tracker/internal/models"

	"go.uber.org/zap"
)

// Options 存储选项
type Options struct {
	// Debug 为 true 时发现不变量被破坏（空历史）直接 panic，否则在清扫时自愈
	Debug bool
}

// FoldStats 单次折叠统计
type FoldStats struct {
	Accepted int
	Rejected int
	Created  int
	Grounded int // 高度为 0 导致删除的航迹数
}

// Store 航迹存储
type Store struct {
	journeys map[string]*models.Journey
	opts     Options
	logger   *zap.Logger
}

// NewStore 创建航迹存储
func NewStore(opts Options, logger *zap.Logger) *Store {
	return &Store{
		journeys: make(map[string]*models.Journey),
		opts:     opts,
		logger:   logger,
	}
}

// Fold 按输入顺序折叠一批报文；now 为接收时刻（墙钟），不使用报文自带时间
func (s *Store) Fold(reports []models.PositionReport, now time.Time) (models.Snapshot, FoldStats) {
	var stats FoldStats
	nowMs := now.UnixMilli()

	for _, report := range reports {
		if !report.Valid() {
			stats.Rejected++
			s.logger.Debug("Dropped malformed position report",
				zap.String("track_id", report.TrackID),
			)
			continue
		}
		stats.Accepted++

		// 高度为 0 表示已降落：删除航迹，且不会由此创建新航迹
		if report.AltitudeMeters == 0 {
			if _, ok := s.journeys[report.TrackID]; ok {
				delete(s.journeys, report.TrackID)
				stats.Grounded++
				s.logger.Info("Track grounded, journey removed",
					zap.String("track_id", report.TrackID),
				)
			}
			continue
		}

		j, ok := s.journeys[report.TrackID]
		if !ok {
			s.journeys[report.TrackID] = &models.Journey{
				TrackID:            report.TrackID,
				History:            []models.PositionReport{report},
				Current:            report,
				FirstSeenEpochMs:   nowMs,
				LastUpdatedEpochMs: nowMs,
			}
			stats.Created++
			continue
		}

		j.History = append(j.History, report)
		j.Current = report
		if nowMs > j.LastUpdatedEpochMs {
			j.LastUpdatedEpochMs = nowMs
		}
	}

	return s.snapshot(nowMs), stats
}

// Sweep 删除 LastUpdatedEpochMs <= now-window 的航迹，返回快照和被删除的 TrackID
// 同一 now 重复调用结果不变
func (s *Store) Sweep(now time.Time, window time.Duration) (models.Snapshot, []string) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	var evicted []string
	for id, j := range s.journeys {
		if len(j.History) == 0 {
			if s.opts.Debug {
				panic(fmt.Sprintf("journey %q stored with empty history", id))
			}
			s.logger.Warn("Removing journey with empty history", zap.String("track_id", id))
			delete(s.journeys, id)
			evicted = append(evicted, id)
			continue
		}
		if j.LastUpdatedEpochMs <= cutoff {
			delete(s.journeys, id)
			evicted = append(evicted, id)
		}
	}

	if len(evicted) > 0 {
		s.logger.Info("Evicted stale journeys",
			zap.Int("evicted_count", len(evicted)),
			zap.Int("remaining_count", len(s.journeys)),
		)
	}

	return s.snapshot(nowMs), evicted
}

// Snapshot 当前状态的只读视图
func (s *Store) Snapshot(now time.Time) models.Snapshot {
	return s.snapshot(now.UnixMilli())
}

func (s *Store) Len() int {
	return len(s.journeys)
}

func (s *Store) snapshot(nowMs int64) models.Snapshot {
	view := make(map[string]models.Journey, len(s.journeys))
	for id, j := range s.journeys {
		view[id] = *j
	}
	return models.NewSnapshot(view, nowMs)
}
