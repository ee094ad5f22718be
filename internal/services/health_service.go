package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// KeyProbe reports whether the activation public key is usable
type KeyProbe interface {
	IsSecure(ctx context.Context) bool
}

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// GuardStats exposes attempt guard counters
type GuardStats interface {
	Stats() map[string]interface{}
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	keys      KeyProbe
	db        Pinger
	guard     GuardStats
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// NewHealthService creates a health service. db and guard may be nil when the
// audit store or the attempt guard are disabled.
func NewHealthService(version, buildTime string, keys KeyProbe, db Pinger, guard GuardStats, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		keys:      keys,
		db:        db,
		guard:     guard,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck requires a usable activation key and, when configured, a reachable database
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]interface{}{
			"activation_key": hs.checkKeyHealth(ctx),
			"database":       hs.checkDatabaseHealth(ctx),
		},
	}

	for name, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status == "not_ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("dependency", name),
				slog.String("message", sh.Message),
			)
		}
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(hs.startTime).Seconds(),
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

// GetDetailedHealth combines every check with guard statistics
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]interface{} {
	detail := map[string]interface{}{
		"health":    hs.HealthCheck(ctx),
		"readiness": hs.ReadinessCheck(ctx),
		"liveness":  hs.LivenessCheck(ctx),
	}
	if hs.guard != nil {
		detail["attempt_guard"] = hs.guard.Stats()
	}
	return detail
}

func (hs *HealthService) checkKeyHealth(ctx context.Context) ServiceHealth {
	if hs.keys == nil || !hs.keys.IsSecure(ctx) {
		return ServiceHealth{
			Status:  "not_ready",
			Message: "activation public key unavailable",
		}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: "activation public key loaded",
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func (hs *HealthService) checkDatabaseHealth(ctx context.Context) ServiceHealth {
	if hs.db == nil {
		return ServiceHealth{Status: "disabled", Message: "audit store not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.db.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return ServiceHealth{Status: "ready", Message: "database reachable"}
}
