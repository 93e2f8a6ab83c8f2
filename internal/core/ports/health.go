package ports

import "context"

// HealthChecker is one dependency probed by GET /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	// Name keys the probe in the health body: "postgresql", "redis", "rabbitmq", "memory".
	Name() string
}
