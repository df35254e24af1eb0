package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal        uint64
	RequestsInProgress   uint64
	RequestsSuccess      uint64
	RequestsFailed       uint64
	SegmentationsTotal   uint64
	SegmentationsRunning uint64
	SegmentationsFailed  uint64
	AnalysesTotal        uint64
	AnalysesRunning      uint64
	AnalysesFailed       uint64
	StartTime            time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

// IncrementRequests increments total request counter
func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

// IncrementInProgress increments in-progress request counter
func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

// DecrementInProgress decrements in-progress request counter
func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

// IncrementSuccess increments successful request counter
func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

// IncrementFailed increments failed request counter
func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// jobCounters picks the total/running/failed counters of a job kind.
func jobCounters(kind string) (total, running, failed *uint64) {
	switch kind {
	case "segmentation":
		return &globalMetrics.SegmentationsTotal, &globalMetrics.SegmentationsRunning, &globalMetrics.SegmentationsFailed
	case "analysis":
		return &globalMetrics.AnalysesTotal, &globalMetrics.AnalysesRunning, &globalMetrics.AnalysesFailed
	}
	return nil, nil, nil
}

// JobMetrics feeds background job events into the global metrics.
type JobMetrics struct{}

func (JobMetrics) JobStarted(kind string) {
	total, running, _ := jobCounters(kind)
	if total == nil {
		return
	}
	atomic.AddUint64(total, 1)
	atomic.AddUint64(running, 1)
}

func (JobMetrics) JobFinished(kind string, failed bool) {
	_, running, failures := jobCounters(kind)
	if running == nil {
		return
	}
	atomic.AddUint64(running, ^uint64(0))
	if failed {
		atomic.AddUint64(failures, 1)
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":        atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress":  atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":      atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":       atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"segmentations_total":   atomic.LoadUint64(&globalMetrics.SegmentationsTotal),
		"segmentations_running": atomic.LoadUint64(&globalMetrics.SegmentationsRunning),
		"segmentations_failed":  atomic.LoadUint64(&globalMetrics.SegmentationsFailed),
		"analyses_total":        atomic.LoadUint64(&globalMetrics.AnalysesTotal),
		"analyses_running":      atomic.LoadUint64(&globalMetrics.AnalysesRunning),
		"analyses_failed":       atomic.LoadUint64(&globalMetrics.AnalysesFailed),
		"uptime_seconds":        time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 200 && rec.status < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
