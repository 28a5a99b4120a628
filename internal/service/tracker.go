// Package service 组装航迹跟踪核心：JourneyStore、Evictor、Reconciler 和指标推导。
//
// 所有状态变更与查询都串行经过同一个命令队列，由单一 goroutine 执行；
// 每个命令运行到结束，Store 与 Reconciler 因此不需要加锁。
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sagerspace-tracker/internal/journey"
	"sagerspace-tracker/internal/metrics"
	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/reconciler"
	"sagerspace-tracker/internal/timeutil"

	"go.uber.org/zap"
)

var (
	// ErrTrackNotFound 航迹不存在（或已过期）
	ErrTrackNotFound = errors.New("track not found")
	// ErrServiceStopped 服务已停止，不再接受命令
	ErrServiceStopped = errors.New("tracker service stopped")
)

// Adapter 接入通道
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// MetricsSink 指标发布目标（异步调用，不阻塞变更队列）
type MetricsSink interface {
	PublishMetrics(ctx context.Context, u metrics.Update) error
}

// SelectionListener 航迹选中通知
type SelectionListener interface {
	TrackSelected(trackID string, position models.Coordinate)
}

// Options 服务选项
type Options struct {
	StaleWindow time.Duration
	Debug       bool
}

// Dependencies 外部依赖
type Dependencies struct {
	Surface  reconciler.Surface
	Camera   reconciler.Camera
	Clock    timeutil.Clock
	Exporter *metrics.Exporter // 可选
	Sinks    []MetricsSink
	Logger   *zap.Logger
}

// Status 连接状态与计数（展示用）
type Status struct {
	Ingest             []models.IngestStatus `json:"ingest"`
	ActiveTracks       int                   `json:"active_tracks"`
	Journeys           int                   `json:"journeys"`
	RenderedTracks     int                   `json:"rendered_tracks"`
	OutstandingHandles int                   `json:"outstanding_handles"`
	StaleWindowSeconds float64               `json:"stale_window_seconds"`
}

// TrackerService 航迹跟踪服务
type TrackerService struct {
	store      *journey.Store
	reconciler *reconciler.Reconciler
	evictor    *journey.Evictor
	surface    reconciler.Surface
	camera     reconciler.Camera
	clock      timeutil.Clock
	exporter   *metrics.Exporter
	sinks      []MetricsSink
	logger     *zap.Logger

	adapters []Adapter

	// 以下字段只在队列 goroutine 中访问
	snapshot models.Snapshot
	latest   metrics.Update

	commands chan func()
	updates  chan metrics.Update
	quit     chan struct{}
	stopped  chan struct{}

	listenerMu sync.RWMutex
	listeners  []SelectionListener

	statusMu sync.RWMutex
	status   map[string]models.IngestStatus

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewTrackerService 创建航迹跟踪服务
func NewTrackerService(opts Options, deps Dependencies) *TrackerService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	empty := models.EmptySnapshot()
	s := &TrackerService{
		store:      journey.NewStore(journey.Options{Debug: opts.Debug}, logger),
		reconciler: reconciler.New(deps.Surface, logger),
		evictor:    journey.NewEvictor(opts.StaleWindow, clock, logger),
		surface:    deps.Surface,
		camera:     deps.Camera,
		clock:      clock,
		exporter:   deps.Exporter,
		sinks:      deps.Sinks,
		logger:     logger,
		snapshot:   empty,
		latest:     metrics.NewUpdate(empty),
		commands:   make(chan func()),
		updates:    make(chan metrics.Update, 1),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		status:     make(map[string]models.IngestStatus),
	}

	if s.exporter != nil {
		exporter := s.exporter
		s.reconciler.SetObserver(func(op reconciler.Operation) {
			exporter.ObserveSurfaceOp(string(op.Kind), op.Err != nil)
		})
	}
	return s
}

// AddAdapter 注册接入通道，需在 Start 前调用
func (s *TrackerService) AddAdapter(a Adapter) {
	s.adapters = append(s.adapters, a)
}

// AddSelectionListener 注册选中通知
func (s *TrackerService) AddSelectionListener(l SelectionListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

// Start 启动队列、清扫和指标发布，然后启动接入通道
func (s *TrackerService) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		go s.loop()

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.publishLoop(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			s.evictor.Run(runCtx, func(now time.Time) {
				if err := s.submit(runCtx, func() { s.sweep(now) }); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warn("Sweep not executed", zap.Error(err))
				}
			})
		}()

		for _, a := range s.adapters {
			if startErr := a.Start(runCtx); startErr != nil {
				err = fmt.Errorf("failed to start %s adapter: %w", a.Name(), startErr)
				return
			}
			s.logger.Info("Ingestion adapter started", zap.String("adapter", a.Name()))
		}

		s.logger.Info("Tracker service started",
			zap.Duration("stale_window", s.evictor.Window()),
			zap.Duration("sweep_interval", s.evictor.Interval()),
			zap.Int("adapters", len(s.adapters)),
		)
	})
	return err
}

// Stop 依次停止清扫和接入通道，执行一次空快照同步清空地图面，最后关闭地图面
func (s *TrackerService) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		for _, a := range s.adapters {
			if stopErr := a.Stop(); stopErr != nil {
				s.logger.Error("Failed to stop ingestion adapter",
					zap.String("adapter", a.Name()),
					zap.Error(stopErr),
				)
			}
		}

		close(s.quit)
		if s.cancel == nil {
			// 未启动：没有队列 goroutine，直接在当前 goroutine 清理
			s.teardown()
			close(s.stopped)
			return
		}
		select {
		case <-s.stopped:
		case <-ctx.Done():
			err = fmt.Errorf("tracker service teardown: %w", ctx.Err())
			return
		}

		s.wg.Wait()
		s.logger.Info("Tracker service stopped")
	})
	return err
}

// HandleBatch 接入通道的唯一入口：折叠一批报文并同步地图面
func (s *TrackerService) HandleBatch(ctx context.Context, reports []models.PositionReport) error {
	if len(reports) == 0 {
		return nil
	}
	return s.submit(ctx, func() { s.fold(reports) })
}

// Sweep 立即执行一次过期清扫（测试与运维用）
func (s *TrackerService) Sweep(ctx context.Context) error {
	return s.submit(ctx, func() { s.sweep(s.clock.Now()) })
}

// Snapshot 最新快照
func (s *TrackerService) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.submit(ctx, func() { snap = s.snapshot })
	return snap, err
}

// Metrics 最新分类计数
func (s *TrackerService) Metrics(ctx context.Context) (metrics.Counts, error) {
	var counts metrics.Counts
	err := s.submit(ctx, func() { counts = s.latest.Counts.Copy() })
	return counts, err
}

// ActiveTracks 在飞航迹列表（按 TrackID 排序）
func (s *TrackerService) ActiveTracks(ctx context.Context) ([]models.TrackSummary, error) {
	var active []models.TrackSummary
	err := s.submit(ctx, func() { active = s.snapshot.Active() })
	return active, err
}

// Track 单条航迹
func (s *TrackerService) Track(ctx context.Context, trackID string) (models.Journey, error) {
	var (
		j  models.Journey
		ok bool
	)
	if err := s.submit(ctx, func() { j, ok = s.snapshot.Get(trackID) }); err != nil {
		return models.Journey{}, err
	}
	if !ok || !j.HasCurrent() {
		return models.Journey{}, ErrTrackNotFound
	}
	return j, nil
}

// Status 连接状态与计数
func (s *TrackerService) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.submit(ctx, func() {
		st = Status{
			ActiveTracks:       s.latest.Total,
			Journeys:           s.snapshot.Len(),
			RenderedTracks:     len(s.reconciler.Rendered()),
			OutstandingHandles: s.reconciler.Outstanding(),
			StaleWindowSeconds: s.evictor.Window().Seconds(),
		}
	})
	if err != nil {
		return Status{}, err
	}
	st.Ingest = s.ingestStatus()
	return st, nil
}

// Focus 请求地图面以航迹当前位置为中心，不修改存储
func (s *TrackerService) Focus(ctx context.Context, trackID string) error {
	j, err := s.Track(ctx, trackID)
	if err != nil {
		return err
	}
	if s.camera == nil {
		return nil
	}
	if err := s.camera.CenterOn(j.Current.Coordinate()); err != nil {
		return fmt.Errorf("failed to focus %s: %w", trackID, err)
	}
	return nil
}

// Select 航迹被点选：解析当前坐标并通知监听者
func (s *TrackerService) Select(ctx context.Context, trackID string) error {
	j, err := s.Track(ctx, trackID)
	if err != nil {
		return err
	}

	s.listenerMu.RLock()
	listeners := append([]SelectionListener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	pos := j.Current.Coordinate()
	for _, l := range listeners {
		l.TrackSelected(trackID, pos)
	}
	return nil
}

// SetIngestStatus 实现 consumer.StatusReporter（只用于展示，不影响航迹状态）
func (s *TrackerService) SetIngestStatus(adapter string, status models.ConnectivityStatus, err error) {
	st := models.IngestStatus{
		Adapter:   adapter,
		Status:    status,
		UpdatedAt: s.clock.Now().UnixMilli(),
	}
	if err != nil {
		st.LastError = err.Error()
	}

	s.statusMu.Lock()
	prev, ok := s.status[adapter]
	s.status[adapter] = st
	s.statusMu.Unlock()

	if !ok || prev.Status != status {
		s.logger.Info("Ingest connectivity changed",
			zap.String("adapter", adapter),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *TrackerService) ingestStatus() []models.IngestStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	out := make([]models.IngestStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Adapter < out[j].Adapter })
	return out
}

// submit 把命令放入队列并等待执行完成；ctx 只约束入队
func (s *TrackerService) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}

	select {
	case s.commands <- cmd:
	case <-s.quit:
		return ErrServiceStopped
	case <-s.stopped:
		return ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// 已入队的命令一定会被执行完；此时返回会与命令对结果变量的写入竞争
	<-done
	return nil
}

func (s *TrackerService) loop() {
	defer close(s.stopped)
	for {
		select {
		case cmd := <-s.commands:
			cmd()
		case <-s.quit:
			s.teardown()
			return
		}
	}
}

func (s *TrackerService) fold(reports []models.PositionReport) {
	snap, stats := s.store.Fold(reports, s.clock.Now())
	if stats.Rejected > 0 {
		if s.exporter != nil {
			s.exporter.AddDroppedReports(stats.Rejected)
		}
		s.logger.Debug("Rejected malformed reports", zap.Int("rejected", stats.Rejected))
	}
	s.afterChange(snap)
}

func (s *TrackerService) sweep(now time.Time) {
	snap, evicted := s.store.Sweep(now, s.evictor.Window())
	if len(evicted) > 0 {
		if s.exporter != nil {
			s.exporter.AddEvictions(len(evicted))
		}
		s.logger.Debug("Evicted stale tracks",
			zap.Int("evicted", len(evicted)),
			zap.Strings("track_ids", evicted),
		)
	}
	s.afterChange(snap)
}

// afterChange 同步地图面，推导指标并投递给异步发布协程（只保留最新一份）
func (s *TrackerService) afterChange(snap models.Snapshot) {
	s.snapshot = snap
	s.reconciler.Reconcile(snap)

	s.latest = metrics.NewUpdate(snap)
	select {
	case s.updates <- s.latest:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- s.latest
	}
}

func (s *TrackerService) teardown() {
	s.reconciler.Teardown()
	if closer, ok := s.surface.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (s *TrackerService) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.updates:
			for _, sink := range s.sinks {
				if err := sink.PublishMetrics(ctx, u); err != nil {
					s.logger.Warn("Failed to publish metrics", zap.Error(err))
				}
			}
		}
	}
}
