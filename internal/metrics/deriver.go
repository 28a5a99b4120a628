// Package metrics 从快照推导聚合计数，并导出为 prometheus 指标。
package metrics

import "sagerspace-tracker/internal/models"

// Counts 分类 → 在飞航迹数
type Counts map[models.Category]int

// Derive 计算各分类在飞航迹数；只统计 Current 高度>0 的航迹，所有分类都会出现（可能为 0）
func Derive(snapshot models.Snapshot) Counts {
	counts := make(Counts, len(models.Categories()))
	for _, c := range models.Categories() {
		counts[c] = 0
	}
	for _, j := range snapshot.Journeys() {
		if !j.HasCurrent() || !j.Current.Airborne() {
			continue
		}
		counts[models.CategoryOf(j.TrackID)]++
	}
	return counts
}

// Total 所有分类合计
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Copy 返回独立副本
func (c Counts) Copy() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Update 每次折叠/清扫后发布的一份指标
type Update struct {
	Counts         Counts                `json:"counts"`
	Total          int                   `json:"total"`
	Journeys       int                   `json:"journeys"`
	Active         []models.TrackSummary `json:"active"`
	TakenAtEpochMs int64                 `json:"taken_at"`
}

// NewUpdate 由快照生成指标更新
func NewUpdate(snapshot models.Snapshot) Update {
	counts := Derive(snapshot)
	return Update{
		Counts:         counts,
		Total:          counts.Total(),
		Journeys:       snapshot.Len(),
		Active:         snapshot.Active(),
		TakenAtEpochMs: snapshot.TakenAtEpochMs(),
	}
}
