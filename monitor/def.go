package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"QrScanServer/logger"
	"QrScanServer/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

type Monitor struct {
	Registry  *prometheus.Registry
	GRPCTotal prometheus.Counter

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge
	proc     *process.Process
}

func New() (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspect own process: %w", err)
	}
	m := &Monitor{
		Registry: prometheus.NewRegistry(),
		proc:     proc,
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		GRPCTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests processed",
		}),
	}
	m.Registry.MustRegister(m.memUsage, m.cpuUsage, m.GRPCTotal)
	return m, nil
}

// RegisterScheduler exports the counters of the scheduler behind stats.
func (m *Monitor) RegisterScheduler(stats func() scheduler.Stats) error {
	counter := func(name, help string, pick func(scheduler.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(stats()))
		})
	}
	collectors := []prometheus.Collector{
		counter("qrscan_frames_submitted_total", "Frames handed to the scheduler",
			func(s scheduler.Stats) uint64 { return s.Submitted }),
		counter("qrscan_frames_superseded_total", "Pending frames replaced before dispatch",
			func(s scheduler.Stats) uint64 { return s.Superseded }),
		counter("qrscan_detections_dispatched_total", "Detection requests sent",
			func(s scheduler.Stats) uint64 { return s.Dispatched }),
		counter("qrscan_detections_succeeded_total", "Detection requests that returned results",
			func(s scheduler.Stats) uint64 { return s.Succeeded }),
		counter("qrscan_detections_failed_total", "Detection requests or conversions that failed",
			func(s scheduler.Stats) uint64 { return s.Failed }),
		counter("qrscan_frames_stale_total", "Frames dropped because their resource was already released",
			func(s scheduler.Stats) uint64 { return s.Stale }),
		counter("qrscan_completions_discarded_total", "Completions for frames no longer in flight",
			func(s scheduler.Stats) uint64 { return s.Discarded }),
		counter("qrscan_codes_read_total", "Codes reported inside the region of interest",
			func(s scheduler.Stats) uint64 { return s.CodesRead }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "qrscan_inflight",
			Help: "1 while a detection is outstanding",
		}, func() float64 {
			if stats().State == scheduler.Detecting.String() {
				return 1
			}
			return 0
		}),
	}
	for _, c := range collectors {
		if err := m.Registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) CheckProcessInfo() {
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// StartMon serves /metrics on port and samples the process until ctx is done.
func (m *Monitor) StartMon(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("prometheus server ListenAndServe error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("prometheus server Shutdown error", zap.Error(err))
	}
}
