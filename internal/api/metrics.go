package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/relaysync/internal/device"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DeviceMetrics summarises the registry and transport reachability.
type DeviceMetrics struct {
	Total          int                 `json:"total"`
	ByKind         map[device.Kind]int `json:"by_kind"`
	ByMode         map[string]int      `json:"by_mode"`
	LocalReachable int                 `json:"local_reachable"`
	CloudReachable int                 `json:"cloud_reachable"`
	Unreachable    int                 `json:"unreachable"`
}

// handleMetrics returns runtime, WebSocket and device statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Devices: DeviceMetrics{
			ByKind: make(map[device.Kind]int),
			ByMode: make(map[string]int),
		},
	}

	for _, st := range s.devices.States() {
		metrics.Devices.Total++
		metrics.Devices.ByKind[st.Kind]++
		if st.Mode != "" {
			metrics.Devices.ByMode[string(st.Mode)]++
		}
		if st.LocalReachable {
			metrics.Devices.LocalReachable++
		}
		if st.CloudReachable {
			metrics.Devices.CloudReachable++
		}
		if !st.LocalReachable && !st.CloudReachable {
			metrics.Devices.Unreachable++
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
