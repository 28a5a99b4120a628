// Package reconciler 计算并执行把地图面同步到最新快照所需的最小操作集。
//
// RenderState（state）是地图面内容的唯一镜像：每执行完一个操作立即更新镜像，
// 逐条航迹处理，中途失败时镜像与已完成的操作保持一致。
package reconciler

import (
	"errors"
	"sort"

	"sagerspace-tracker/internal/models"

	"go.uber.org/zap"
)

type renderEntry struct {
	marker Handle
	trail  Handle

	// 最近一次成功同步到地图面的历史长度和当前报文，用于跳过未变化的航迹
	appliedLen     int
	appliedCurrent models.PositionReport
}

// Reconciler 地图面同步器，只能在单一变更队列中调用
type Reconciler struct {
	surface  Surface
	state    map[string]*renderEntry
	logger   *zap.Logger
	observer func(Operation)
}

// New 创建同步器
func New(surface Surface, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		surface: surface,
		state:   make(map[string]*renderEntry),
		logger:  logger,
	}
}

// SetObserver 每个已执行操作的回调（指标统计用）
func (r *Reconciler) SetObserver(fn func(Operation)) {
	r.observer = fn
}

// Reconcile 对比快照与镜像：先删除消失的航迹，再新增/更新其余航迹
func (r *Reconciler) Reconcile(snapshot models.Snapshot) []Operation {
	p := &pass{r: r}

	for _, id := range r.Rendered() {
		if !snapshot.Has(id) {
			p.remove(id)
		}
	}

	for _, j := range snapshot.Journeys() {
		if p.aborted {
			break
		}
		if !j.HasCurrent() {
			continue
		}
		if e, ok := r.state[j.TrackID]; ok {
			p.update(j, e)
		} else {
			p.add(j)
		}
	}

	if p.aborted {
		r.logger.Warn("Render surface unavailable, remaining operations dropped",
			zap.Int("applied_ops", len(p.ops)),
		)
	}
	return p.ops
}

// Teardown 用空快照同步一次，移除本同步器创建的全部地图对象
func (r *Reconciler) Teardown() []Operation {
	ops := r.Reconcile(models.EmptySnapshot())
	r.logger.Info("Render state torn down",
		zap.Int("removed_ops", len(ops)),
		zap.Int("outstanding_handles", r.Outstanding()),
	)
	return ops
}

// Outstanding 镜像中仍持有的句柄数（标记 + 轨迹层）
func (r *Reconciler) Outstanding() int {
	n := 0
	for _, e := range r.state {
		if e.marker != "" {
			n++
		}
		if e.trail != "" {
			n++
		}
	}
	return n
}

// Rendered 已在地图面上的 TrackID（排序）
func (r *Reconciler) Rendered() []string {
	ids := make([]string, 0, len(r.state))
	for id := range r.state {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handles 查询某航迹的句柄
func (r *Reconciler) Handles(trackID string) (marker, trail Handle, ok bool) {
	e, ok := r.state[trackID]
	if !ok {
		return "", "", false
	}
	return e.marker, e.trail, true
}

type pass struct {
	r       *Reconciler
	ops     []Operation
	aborted bool
}

func (p *pass) emit(op Operation) {
	p.ops = append(p.ops, op)
	if p.r.observer != nil {
		p.r.observer(op)
	}
	if op.Err != nil {
		p.r.logger.Warn("Surface operation failed",
			zap.String("op", string(op.Kind)),
			zap.String("track_id", op.TrackID),
			zap.String("handle", string(op.Handle)),
			zap.Error(op.Err),
		)
	}
}

// remove 删除失败视为已满足：镜像照常更新，后续不会重试
func (p *pass) remove(id string) {
	s := p.r.surface
	e := p.r.state[id]

	if e.trail != "" {
		err := s.RemoveTrailLayer(e.trail)
		p.emit(Operation{Kind: OpRemoveTrail, TrackID: id, Handle: e.trail, Err: err})
		e.trail = ""
	}

	err := s.RemoveMarker(e.marker)
	p.emit(Operation{Kind: OpRemoveMarker, TrackID: id, Handle: e.marker, Err: err})
	delete(p.r.state, id)
}

func (p *pass) add(j models.Journey) {
	style := StyleFor(j.TrackID, j.Current)
	pos := j.Current.Coordinate()
	rot := Rotation(j.Current)

	h, err := p.r.surface.CreateMarker(j.TrackID, pos, rot, style)
	p.emit(Operation{Kind: OpCreateMarker, TrackID: j.TrackID, Handle: h, Position: pos, Rotation: rot, Style: style, Err: err})
	if err != nil {
		// 未记录镜像，下一轮仍按新增处理
		p.checkUnavailable(err)
		return
	}

	e := &renderEntry{marker: h, appliedCurrent: j.Current}
	p.r.state[j.TrackID] = e

	if p.syncTrail(j, e, style) {
		e.appliedLen = len(j.History)
	}
}

func (p *pass) update(j models.Journey, e *renderEntry) {
	if len(j.History) == e.appliedLen && j.Current == e.appliedCurrent {
		return
	}

	if j.Current != e.appliedCurrent {
		pos := j.Current.Coordinate()
		rot := Rotation(j.Current)
		err := p.r.surface.MoveMarker(e.marker, pos, rot)
		p.emit(Operation{Kind: OpMoveMarker, TrackID: j.TrackID, Handle: e.marker, Position: pos, Rotation: rot, Err: err})
		if err != nil {
			if errors.Is(err, ErrHandleNotFound) {
				// 标记已不在地图面上：丢弃镜像，下一轮重新创建
				p.remove(j.TrackID)
				return
			}
			p.checkUnavailable(err)
			return
		}
		e.appliedCurrent = j.Current
	}

	if p.syncTrail(j, e, StyleFor(j.TrackID, j.Current)) {
		e.appliedLen = len(j.History)
	}
}

// syncTrail 历史不少于 2 条时创建或更新轨迹层；返回轨迹是否已与历史一致
func (p *pass) syncTrail(j models.Journey, e *renderEntry, style Style) bool {
	if len(j.History) < 2 {
		return true
	}
	coords := j.Coordinates()

	if e.trail == "" {
		h, err := p.r.surface.CreateTrailLayer(j.TrackID, coords, style)
		p.emit(Operation{Kind: OpCreateTrail, TrackID: j.TrackID, Handle: h, Coordinates: coords, Style: style, Err: err})
		if err != nil {
			p.checkUnavailable(err)
			return false
		}
		e.trail = h
		return true
	}

	err := p.r.surface.UpdateTrailLayer(e.trail, coords)
	p.emit(Operation{Kind: OpUpdateTrail, TrackID: j.TrackID, Handle: e.trail, Coordinates: coords, Err: err})
	if err != nil {
		if errors.Is(err, ErrHandleNotFound) {
			e.trail = ""
		}
		p.checkUnavailable(err)
		return false
	}
	return true
}

func (p *pass) checkUnavailable(err error) {
	if errors.Is(err, ErrSurfaceUnavailable) {
		p.aborted = true
	}
}
