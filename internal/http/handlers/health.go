// Package handlers provides the lightnvr HTTP API handlers.
package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// RequestCounterSource reports request totals for the health payload.
type RequestCounterSource interface {
	RequestCounters() (total, failed uint64)
}

// HealthHandler handles the health check endpoint the external health
// supervisor probes.
type HealthHandler struct {
	version   string
	startTime time.Time
	counters  RequestCounterSource
	dbPing    func(ctx context.Context) error
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, counters RequestCounterSource, dbPing func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		counters:  counters,
		dbPing:    dbPing,
	}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Healthy        bool    `json:"healthy"`
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	Uptime         float64 `json:"uptime"`
	TotalRequests  uint64  `json:"totalRequests"`
	FailedRequests uint64  `json:"failedRequests"`
	Timestamp      int64   `json:"timestamp"`

	CPUCores      int     `json:"cpuCores"`
	Load1Min      float64 `json:"load1Min"`
	MemoryUsedMB  float64 `json:"memoryUsedMB"`
	MemoryTotalMB float64 `json:"memoryTotalMB"`
	Goroutines    int     `json:"goroutines"`
}

// HealthOutput wraps the health payload.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the service health status.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()

	healthy := true
	status := "ok"
	if h.dbPing != nil {
		if err := h.dbPing(ctx); err != nil {
			healthy = false
			status = "catalog unreachable"
		}
	}

	var total, failed uint64
	if h.counters != nil {
		total, failed = h.counters.RequestCounters()
	}

	resp := HealthResponse{
		Healthy:        healthy,
		Status:         status,
		Version:        h.version,
		Uptime:         now.Sub(h.startTime).Seconds(),
		TotalRequests:  total,
		FailedRequests: failed,
		Timestamp:      now.Unix(),
		CPUCores:       runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		resp.Load1Min = loadAvg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		resp.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		resp.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}

	return &HealthOutput{Body: resp}, nil
}
