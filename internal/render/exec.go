package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"time"

	"pictor/internal/params"
	"pictor/internal/pictor"
)

// ExecRenderer shells out to an external tool for every render. The tool
// reads the source bytes on stdin, receives the canonical transform as a
// JSON argument appended to the configured command, and writes the encoded
// derivative to stdout. Anything on stderr is treated as diagnostics and
// folded into the error on failure.
type ExecRenderer struct {
	command []string
	timeout time.Duration
	probe   *ProbeRenderer
	logger  pictor.Logger
}

var _ pictor.Renderer = (*ExecRenderer)(nil)

// NewExecRenderer builds a renderer around command. The timeout bounds each
// render; zero means 30 seconds.
func NewExecRenderer(command []string, timeout time.Duration, logger pictor.Logger) (*ExecRenderer, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("exec renderer requires a command")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecRenderer{
		command: command,
		timeout: timeout,
		probe:   NewProbeRenderer(),
		logger:  logger,
	}, nil
}

func (r *ExecRenderer) Dimensions(ctx context.Context, source io.Reader) (int, int, error) {
	return r.probe.Dimensions(ctx, source)
}

func (r *ExecRenderer) Render(ctx context.Context, source io.Reader, t params.Transform) ([]byte, pictor.RenderInfo, error) {
	arg, err := json.Marshal(t.Canonical())
	if err != nil {
		return nil, pictor.RenderInfo{}, fmt.Errorf("encoding transform: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, r.command[1:]...), string(arg))
	cmd := exec.CommandContext(ctx, r.command[0], args...)
	cmd.Stdin = source

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, pictor.RenderInfo{}, fmt.Errorf("%s failed: %w: %s", r.command[0], err, msg)
		}
		return nil, pictor.RenderInfo{}, fmt.Errorf("%s failed: %w", r.command[0], err)
	}

	out := stdout.Bytes()
	if len(out) == 0 {
		return nil, pictor.RenderInfo{}, fmt.Errorf("%s produced no output", r.command[0])
	}
	r.logger.Debug("rendered derivative",
		"command", r.command[0], "bytes", len(out), "duration", time.Since(started))

	return out, r.describe(out, t), nil
}

// describe measures the rendered output. Formats the standard decoders do
// not know fall back to the transform's own bounds and format.
func (r *ExecRenderer) describe(out []byte, t params.Transform) pictor.RenderInfo {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return pictor.RenderInfo{Width: t.Width, Height: t.Height, Format: strings.ToLower(t.Format)}
	}
	return pictor.RenderInfo{Width: cfg.Width, Height: cfg.Height, Format: format}
}
