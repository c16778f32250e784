package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"giftcard-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

type dependencyStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck handles GET /health. Dependencies are pinged concurrently, each
// under its own timeout; any failure reports 503 "degraded".
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			mu   sync.Mutex
			wg   sync.WaitGroup
			deps = make(map[string]dependencyStatus, len(checkers))
		)
		for _, checker := range checkers {
			wg.Add(1)
			go func(hc ports.HealthChecker) {
				defer wg.Done()
				st := ping(c.Request.Context(), hc)
				mu.Lock()
				deps[hc.Name()] = st
				mu.Unlock()
			}(checker)
		}
		wg.Wait()

		status, code := "healthy", http.StatusOK
		for _, d := range deps {
			if d.Status != "healthy" {
				status, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}

		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": deps,
			"checked_at":   time.Now().UTC(),
		})
	}
}

func ping(ctx context.Context, hc ports.HealthChecker) dependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := hc.Ping(ctx)
	st := dependencyStatus{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		st.Status = "unhealthy"
		st.Error = err.Error()
	}
	return st
}
