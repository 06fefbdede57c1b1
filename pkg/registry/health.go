package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const healthLogPrefix = "registry:health"

// Health checks the registration tables and, when they come from Postgres, the database.
func (r *Registry) Health(ctx context.Context) *HealthOutput {
	dbStatus := "disabled"
	if r.source == SourceDB {
		dbStatus = "ok"
		if r.repo == nil {
			dbStatus = "error"
		} else if err := r.repo.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - database ping failed: %v", healthLogPrefix, err))
			dbStatus = "error"
		}
	}

	loaded := r.Loaded()
	status := "healthy"
	if dbStatus == "error" || !loaded {
		status = "unhealthy"
	}

	s := r.Snapshot()
	return &HealthOutput{
		Status: status,
		Checks: HealthChecks{
			Database:     dbStatus,
			Registration: loaded,
		},
		Counts:    s.Counts(),
		Source:    r.source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
