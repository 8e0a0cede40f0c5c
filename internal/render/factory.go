package render

import (
	"fmt"
	"time"

	"pictor/internal/config"
	"pictor/internal/pictor"
)

// NewFromConfig creates a Renderer implementation based on the renderer
// config type.
func NewFromConfig(cfg config.RendererConfig, logger pictor.Logger) (pictor.Renderer, error) {
	switch cfg.Type {
	case "probe", "":
		return NewProbeRenderer(), nil
	case "exec":
		return NewExecRenderer(cfg.Command, time.Duration(cfg.TimeoutSeconds)*time.Second, logger)
	default:
		return nil, fmt.Errorf("unknown renderer type: %s", cfg.Type)
	}
}
