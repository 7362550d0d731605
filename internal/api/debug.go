package api

import (
	"net/http"
	"time"

	"riderdispatch/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"depot": s.Sched.Depot(),
	}
	if c := s.Config; c != nil {
		info["config"] = map[string]any{
			"PORT":                 c.Port,
			"AUTH_MODE":            c.AuthMode,
			"RATE_RPS":             c.RateRPS,
			"RATE_BURST":           c.RateBurst,
			"TICK_INTERVAL":        c.TickInterval.String(),
			"RELEASE_THRESHOLD":    c.ReleaseThreshold.String(),
			"MAX_BATCH_SIZE":       c.MaxBatchSize,
			"MAX_CLUSTER_SIZE":     c.MaxClusterSize,
			"BATCH_TIME_BUFFER":    c.Estimator.BatchBuffer,
			"BATCH_BUFFER_SET":     c.BatchBufferSet,
			"WEBHOOK_MAX_ATTEMPTS": c.WebhookMaxAttempts,
			"HAS_DATABASE_URL":     c.DatabaseURL != "",
			"HAS_REDIS_URL":        c.RedisURL != "",
		}
	}
	writeJSON(w, http.StatusOK, info)
}
