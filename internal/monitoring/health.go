package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/quarrel-bindings/internal/logger"
)

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Engine    EngineInfo    `json:"engine"`
}

type SystemInfo struct {
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	NumCPU     int    `json:"num_cpu"`
	Goroutines int    `json:"goroutines"`
	HeapMB     uint64 `json:"heap_mb"`
}

// EngineInfo is filled by the EngineFunc given to the monitor.
type EngineInfo struct {
	Backend     string `json:"backend"`
	Capability  string `json:"capability"`
	ModelPath   string `json:"model_path,omitempty"`
	Description string `json:"description,omitempty"`
	Window      int    `json:"window,omitempty"`
	Pos         int    `json:"pos"`
}

type EngineFunc func() EngineInfo

// HealthMonitor serves /metrics and /healthz.
type HealthMonitor struct {
	startTime time.Time
	engine    EngineFunc

	mu     sync.Mutex
	server *http.Server
}

func NewHealthMonitor(engine EngineFunc) *HealthMonitor {
	return &HealthMonitor{startTime: time.Now(), engine: engine}
}

// Handler returns the monitor's routes.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	return mux
}

// Start listens on addr in the background.
func (hm *HealthMonitor) Start(addr string) {
	srv := &http.Server{Addr: addr, Handler: hm.Handler(), ReadHeaderTimeout: 5 * time.Second}
	hm.mu.Lock()
	hm.server = srv
	hm.mu.Unlock()

	go func() {
		logger.Log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	hm.mu.Lock()
	srv := hm.server
	hm.server = nil
	hm.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Status snapshots the process and engine state.
func (hm *HealthMonitor) Status() HealthStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		System: SystemInfo{
			GoVersion:  runtime.Version(),
			OS:         runtime.GOOS,
			Arch:       runtime.GOARCH,
			NumCPU:     runtime.NumCPU(),
			Goroutines: runtime.NumGoroutine(),
			HeapMB:     mem.HeapAlloc / (1 << 20),
		},
	}
	if hm.engine != nil {
		st.Engine = hm.engine()
		if st.Engine.ModelPath == "" {
			st.Status = "idle"
		}
	}
	return st
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(hm.Status()); err != nil {
		logger.Log.Warn("encode health status", "error", err)
	}
}
