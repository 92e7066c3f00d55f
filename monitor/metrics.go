package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/TIANLI0/CrackKit/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// 推理调用结果标签
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeTransport = "transport_error"
	OutcomeDecode    = "decode_error"
	OutcomeCacheHit  = "cache_hit"
)

// Metrics 服务指标，使用独立的 registry
type Metrics struct {
	registry *prometheus.Registry

	InferenceTotal    *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	DetectionsKept    prometheus.Counter
	RenderWarnings    prometheus.Counter
	memUsage          prometheus.Gauge
	cpuUsage          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		InferenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Total number of inference API calls by outcome",
		}, []string{"outcome"}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Inference API round trip time",
			Buckets: prometheus.DefBuckets,
		}),
		DetectionsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detections_retained_total",
			Help: "Detections at or above the confidence threshold",
		}),
		RenderWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "render_warnings_total",
			Help: "Warnings produced while rendering overlays",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
	}

	m.registry.MustRegister(m.InferenceTotal, m.InferenceDuration, m.DetectionsKept,
		m.RenderWarnings, m.memUsage, m.cpuUsage)
	return m
}

// ObserveInference 记录一次推理调用
func (m *Metrics) ObserveInference(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCacheHit {
		m.InferenceDuration.Observe(d.Seconds())
	}
}

// ObserveRender 记录渲染结果
func (m *Metrics) ObserveRender(kept, warnings int) {
	if m == nil {
		return
	}
	m.DetectionsKept.Add(float64(kept))
	m.RenderWarnings.Add(float64(warnings))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartProcessSampler 定时采集本进程内存和CPU，ctx 取消后退出
func (m *Metrics) StartProcessSampler(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		utils.Logger.Warn("process sampler disabled", zap.Error(err))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(proc)
		}
	}
}

func (m *Metrics) sample(proc *process.Process) {
	if memInfo, err := proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}
