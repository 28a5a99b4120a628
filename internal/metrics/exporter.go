package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter 把航迹状态镜像到 prometheus
type Exporter struct {
	activeTracks   *prometheus.GaugeVec
	journeys       prometheus.Gauge
	surfaceOps     *prometheus.CounterVec
	surfaceErrors  *prometheus.CounterVec
	evictions      prometheus.Counter
	droppedReports prometheus.Counter
}

// NewExporter 在给定 registerer 上注册指标（测试中使用独立 registry 避免重复注册）
func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		activeTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sagerspace",
			Name:      "active_tracks",
			Help:      "Airborne tracks by category.",
		}, []string{"category"}),
		journeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sagerspace",
			Name:      "journeys",
			Help:      "Journeys currently held in the store.",
		}),
		surfaceOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagerspace",
			Name:      "surface_ops_total",
			Help:      "Render surface operations issued by the reconciler.",
		}, []string{"op"}),
		surfaceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagerspace",
			Name:      "surface_op_errors_total",
			Help:      "Render surface operations that returned an error.",
		}, []string{"op"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagerspace",
			Name:      "evictions_total",
			Help:      "Journeys removed by the staleness sweep.",
		}),
		droppedReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagerspace",
			Name:      "dropped_reports_total",
			Help:      "Malformed position reports dropped at fold time.",
		}),
	}
	reg.MustRegister(e.activeTracks, e.journeys, e.surfaceOps, e.surfaceErrors, e.evictions, e.droppedReports)
	return e
}

// ObserveCounts 更新分类计数和存储中的航迹数
func (e *Exporter) ObserveCounts(counts Counts, journeys int) {
	for category, n := range counts {
		e.activeTracks.WithLabelValues(string(category)).Set(float64(n))
	}
	e.journeys.Set(float64(journeys))
}

// ObserveSurfaceOp 记录一次地图面操作
func (e *Exporter) ObserveSurfaceOp(op string, failed bool) {
	e.surfaceOps.WithLabelValues(op).Inc()
	if failed {
		e.surfaceErrors.WithLabelValues(op).Inc()
	}
}

func (e *Exporter) AddEvictions(n int) {
	e.evictions.Add(float64(n))
}

func (e *Exporter) AddDroppedReports(n int) {
	e.droppedReports.Add(float64(n))
}

// PublishMetrics 实现 service.MetricsSink
func (e *Exporter) PublishMetrics(_ context.Context, u Update) error {
	e.ObserveCounts(u.Counts, u.Journeys)
	return nil
}
