package handler

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"
)

const readyTimeout = 5 * time.Second

// Pinger is a fan-out backend that can report its own health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one dependency probed by the readiness endpoint
type Check struct {
	Name string
	Ping func(ctx context.Context) error
	// Metadata is reported alongside a successful ping. Optional.
	Metadata func() map[string]interface{}
}

// DatabaseCheck pings the store and reports pool usage
func DatabaseCheck(db *sql.DB) Check {
	return Check{
		Name: "database",
		Ping: db.PingContext,
		Metadata: func() map[string]interface{} {
			stats := db.Stats()
			return map[string]interface{}{
				"connections_open":   stats.OpenConnections,
				"connections_in_use": stats.InUse,
				"connections_idle":   stats.Idle,
				"max_open":           stats.MaxOpenConnections,
			}
		},
	}
}

// FanoutCheck pings the configured fan-out backend
func FanoutCheck(backend string, fanout Pinger) Check {
	return Check{
		Name: "fanout",
		Ping: fanout.Ping,
		Metadata: func() map[string]interface{} {
			return map[string]interface{}{"backend": backend}
		},
	}
}

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Ready runs every check concurrently and answers 503 unless all are up
func Ready(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		results := make([]HealthCheckResult, len(checks))
		var wg sync.WaitGroup
		for i, c := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(ctx, c)
			}()
		}
		wg.Wait()

		status, state := http.StatusOK, "ready"
		byName := make(map[string]HealthCheckResult, len(checks))
		for i, c := range checks {
			byName[c.Name] = results[i]
			if results[i].Status != "up" {
				status, state = http.StatusServiceUnavailable, "not_ready"
			}
		}

		writeJSON(w, status, map[string]interface{}{
			"status":    state,
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    byName,
		})
	}
}

func runCheck(ctx context.Context, c Check) HealthCheckResult {
	start := time.Now()
	err := c.Ping(ctx)
	result := HealthCheckResult{Status: "up", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "down"
		result.Error = err.Error()
		return result
	}
	if c.Metadata != nil {
		result.Metadata = c.Metadata()
	}
	return result
}
