package api

import (
	"net/http"
	"runtime"
	"time"

	"realtime-chat/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports open websocket connections
type ConnectionCounter interface {
	Count() int
}

// HealthController serves the health endpoint
type HealthController struct {
	checker     *health.Checker
	connections ConnectionCounter
	version     string
	startTime   time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string                       `json:"status"`
	Timestamp   time.Time                    `json:"timestamp"`
	Version     string                       `json:"version"`
	Uptime      string                       `json:"uptime"`
	Connections int                          `json:"active_connections"`
	Components  map[string]*health.Component `json:"components"`
	Memory      MemoryStats                  `json:"memory"`
}

type MemoryStats struct {
	AllocMB  uint64 `json:"alloc_mb"`
	SysMB    uint64 `json:"sys_mb"`
	GCCycles uint32 `json:"gc_cycles"`
}

func NewHealthController(checker *health.Checker, connections ConnectionCounter, version string) *HealthController {
	return &HealthController{
		checker:     checker,
		connections: connections,
		version:     version,
		startTime:   time.Now(),
	}
}

// HealthHandler reports component status; 503 when a critical component is down
func (h *HealthController) HealthHandler(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: h.checker.GetStatus(),
		Memory: MemoryStats{
			AllocMB:  memStats.Alloc / 1024 / 1024,
			SysMB:    memStats.Sys / 1024 / 1024,
			GCCycles: memStats.NumGC,
		},
	}
	if h.connections != nil {
		resp.Connections = h.connections.Count()
	}

	code := http.StatusOK
	if !h.checker.IsSystemHealthy() {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthController) RegisterHealthRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthHandler)
}
