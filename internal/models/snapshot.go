package models

import "sort"

// Snapshot JourneyStore 某一时刻的只读视图
// 历史切片以 cap==len 的方式共享底层数组，存储后续追加不会影响已发出的快照
type Snapshot struct {
	journeys map[string]Journey
	takenAt  int64
}

// NewSnapshot 复制传入的 map，调用方之后的修改不影响快照
func NewSnapshot(journeys map[string]Journey, takenAtEpochMs int64) Snapshot {
	copied := make(map[string]Journey, len(journeys))
	for id, j := range journeys {
		j.History = j.History[:len(j.History):len(j.History)]
		copied[id] = j
	}
	return Snapshot{journeys: copied, takenAt: takenAtEpochMs}
}

// EmptySnapshot 空快照（关闭时用于清空地图面）
func EmptySnapshot() Snapshot {
	return Snapshot{journeys: map[string]Journey{}}
}

func (s Snapshot) Len() int { return len(s.journeys) }

func (s Snapshot) TakenAtEpochMs() int64 { return s.takenAt }

func (s Snapshot) Get(trackID string) (Journey, bool) {
	j, ok := s.journeys[trackID]
	return j, ok
}

func (s Snapshot) Has(trackID string) bool {
	_, ok := s.journeys[trackID]
	return ok
}

// IDs 按 TrackID 排序
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.journeys))
	for id := range s.journeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Journeys 按 TrackID 排序
func (s Snapshot) Journeys() []Journey {
	out := make([]Journey, 0, len(s.journeys))
	for _, id := range s.IDs() {
		out = append(out, s.journeys[id])
	}
	return out
}

// Active 当前在飞（高度>0）的航迹列表
func (s Snapshot) Active() []TrackSummary {
	out := make([]TrackSummary, 0, len(s.journeys))
	for _, j := range s.Journeys() {
		if j.HasCurrent() && j.Current.Airborne() {
			out = append(out, j.Summary())
		}
	}
	return out
}
