// Package extract bursts multi-page sources into per-page images. The
// policy half answers eligibility questions during sync; the extractor half
// handles image:burst tasks, rendering every page of a source into a derived
// folder next to it and registering the results in the catalog.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"pictor/internal/config"
	"pictor/internal/params"
	"pictor/internal/pictor"
)

// pageFormat is the encoding extracted pages are rendered in.
const pageFormat = "png"

// Policy decides which sources support page extraction. PDF sources burst
// into a sibling "<src>.pages" folder.
type Policy struct {
	pdfEnabled bool
}

var _ pictor.Burster = (*Policy)(nil)

func NewPolicy(cfg config.ExtractConfig) *Policy {
	return &Policy{pdfEnabled: cfg.PDF}
}

func (p *Policy) Eligible(src string) bool {
	return p.pdfEnabled && strings.HasSuffix(strings.ToLower(src), ".pdf")
}

func (p *Policy) DerivedFolder(src string) string {
	return src + ".pages"
}

// Extractor runs image:burst tasks.
type Extractor struct {
	policy   *Policy
	files    pictor.FileStore
	renderer pictor.Renderer
	engine   *pictor.SyncEngine
	logger   pictor.Logger

	// countPages is swappable so handler tests do not need crafted PDF
	// fixtures.
	countPages func(data []byte) (int, error)
}

func NewExtractor(policy *Policy, files pictor.FileStore, renderer pictor.Renderer, engine *pictor.SyncEngine, logger pictor.Logger) *Extractor {
	return &Extractor{
		policy:     policy,
		files:      files,
		renderer:   renderer,
		engine:     engine,
		logger:     logger,
		countPages: pdfPageCount,
	}
}

// HandleBurst renders every page of the source named in the payload into its
// derived folder and syncs the written files into the catalog. Pages are
// written with overwrite, so an interrupted burst heals when the task runs
// again.
func (e *Extractor) HandleBurst(ctx context.Context, payload []byte) error {
	var p pictor.BurstParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding burst parameters: %w", err)
	}
	if !e.policy.Eligible(p.Src) {
		e.logger.Debug("source not eligible for extraction", "src", p.Src)
		return nil
	}

	rc, err := e.files.Open(p.Src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", p.Src, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", p.Src, err)
	}

	pages, err := e.countPages(data)
	if err != nil {
		return fmt.Errorf("counting pages of %s: %w", p.Src, err)
	}
	if pages == 0 {
		e.logger.Info("source has no pages to extract", "src", p.Src)
		return nil
	}

	derived := e.policy.DerivedFolder(p.Src)
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, _, err := e.renderer.Render(ctx, bytes.NewReader(data), params.Transform{Page: page, Format: pageFormat})
		if err != nil {
			return fmt.Errorf("rendering page %d of %s: %w", page, p.Src, err)
		}
		path := PagePath(derived, page)
		if err := e.files.Write(path, bytes.NewReader(out), true, true); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if _, err := e.engine.SyncImage(ctx, path, pictor.SyncOptions{}); err != nil {
			return fmt.Errorf("registering %s: %w", path, err)
		}
	}

	e.logger.Info("burst source into pages", "src", p.Src, "pages", pages, "folder", derived)
	return nil
}

// PagePath names an extracted page inside a derived folder.
func PagePath(derivedFolder string, page int) string {
	return fmt.Sprintf("%s/page-%04d.%s", derivedFolder, page, pageFormat)
}

func pdfPageCount(data []byte) (int, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("reading pdf: %w", err)
	}
	return doc.NumPage(), nil
}
