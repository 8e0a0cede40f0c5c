package taskqueue

import (
	"fmt"
	"time"

	"pictor/internal/config"
	"pictor/internal/pictor"
)

// NewFromConfig creates a TaskQueue implementation based on the queue config
// type.
func NewFromConfig(cfg config.QueueConfig, reg *Registry, logger pictor.Logger, clock pictor.Clock) (pictor.TaskQueue, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalQueue(reg, LocalOptions{
			Workers:   cfg.Workers,
			Retention: time.Duration(cfg.RetentionHours) * time.Hour,
		}, logger, clock), nil
	case "asynq":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr required for asynq queue")
		}
		return NewAsynqQueue(cfg.RedisAddr, logger, clock), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
