package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"marketplace-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type probeResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck probes all checkers in parallel under one deadline. Any
// failed probe degrades the service to 503 so load balancers drain it.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			degraded bool
		)
		results := make(map[string]probeResult, len(checkers))
		for _, hc := range checkers {
			wg.Add(1)
			go func(hc ports.HealthChecker) {
				defer wg.Done()
				started := time.Now()
				err := hc.Ping(ctx)
				r := probeResult{Status: "healthy", LatencyMS: time.Since(started).Milliseconds()}
				if err != nil {
					r.Status, r.Error = "unhealthy", err.Error()
				}

				mu.Lock()
				defer mu.Unlock()
				results[hc.Name()] = r
				degraded = degraded || err != nil
			}(hc)
		}
		wg.Wait()

		if degraded {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": results})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "dependencies": results})
	}
}
