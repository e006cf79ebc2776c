// Package handlers implements the health server's huma operations.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/matchcast/internal/version"
)

const bytesPerMB = 1024 * 1024

// HealthHandler serves GET /health.
type HealthHandler struct {
	startTime time.Time
	now       func() time.Time
}

// NewHealthHandler creates a health handler. Uptime is measured from now.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startTime: time.Now(), now: time.Now}
}

type HealthInput struct{}

type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse reports liveness plus a coarse view of the host.
type HealthResponse struct {
	Status        string       `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	Version       version.Info `json:"version"`
	Uptime        string       `json:"uptime"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Host          HostInfo     `json:"host"`
	CPU           CPUInfo      `json:"cpu"`
	Memory        MemoryInfo   `json:"memory"`
}

type HostInfo struct {
	Hostname      string `json:"hostname,omitempty"`
	OS            string `json:"os,omitempty"`
	Platform      string `json:"platform,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	UptimeSeconds uint64 `json:"uptime_seconds,omitempty"`
}

type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// Register adds the health operation to api.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns version, uptime and host load and memory",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth always reports healthy when the process can answer. Host
// metrics that cannot be read are left zero.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := h.now()
	uptime := now.Sub(h.startTime)

	return &HealthOutput{
		Body: HealthResponse{
			Status:        "healthy",
			Timestamp:     now.UTC(),
			Version:       version.GetInfo(),
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			Host:          hostInfo(ctx),
			CPU:           cpuInfo(ctx),
			Memory:        memoryInfo(ctx),
		},
	}, nil
}

func hostInfo(ctx context.Context) HostInfo {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		return HostInfo{}
	}
	return HostInfo{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform,
		KernelVersion: info.KernelVersion,
		UptimeSeconds: info.Uptime,
	}
}

func cpuInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.AvgWithContext(ctx)
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

func memoryInfo(ctx context.Context) MemoryInfo {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil || vm == nil {
		return MemoryInfo{}
	}
	return MemoryInfo{
		TotalMB:     float64(vm.Total) / bytesPerMB,
		UsedMB:      float64(vm.Used) / bytesPerMB,
		AvailableMB: float64(vm.Available) / bytesPerMB,
		UsedPercent: vm.UsedPercent,
	}
}
