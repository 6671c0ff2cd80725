package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus reports database connectivity and pool statistics.
type HealthStatus struct {
	Status           string        `json:"status"`
	ResponseTime     time.Duration `json:"response_time_ms"`
	AcquiredConns    int32         `json:"acquired_conns"`
	IdleConns        int32         `json:"idle_conns"`
	MaxConns         int32         `json:"max_conns"`
	NewConnsCount    int64         `json:"new_conns_count"`
	EmptyAcquireWait time.Duration `json:"empty_acquire_wait_ms"`
}

// Health pings the pool and reports its connection statistics.
func Health(ctx context.Context, pool *pgxpool.Pool) (*HealthStatus, error) {
	start := time.Now()

	if err := pool.Ping(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}

	stat := pool.Stat()
	return &HealthStatus{
		Status:           "healthy",
		ResponseTime:     time.Since(start),
		AcquiredConns:    stat.AcquiredConns(),
		IdleConns:        stat.IdleConns(),
		MaxConns:         stat.MaxConns(),
		NewConnsCount:    stat.NewConnsCount(),
		EmptyAcquireWait: stat.EmptyAcquireWaitTime(),
	}, nil
}
