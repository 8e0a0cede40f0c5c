package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"pictor/internal/config"
	"pictor/internal/model"
	"pictor/internal/pictor"
	"pictor/internal/testutil"
)

func TestPolicyEligible(t *testing.T) {
	p := NewPolicy(config.ExtractConfig{PDF: true})

	tests := []struct {
		src  string
		want bool
	}{
		{"/doc.pdf", true},
		{"/nested/Scan.PDF", true},
		{"/photo.jpg", false},
		{"/doc.pdf.pages/page-0001.png", false},
	}
	for _, tt := range tests {
		if got := p.Eligible(tt.src); got != tt.want {
			t.Errorf("Eligible(%s) = %v, want %v", tt.src, got, tt.want)
		}
	}

	if got := p.DerivedFolder("/doc.pdf"); got != "/doc.pdf.pages" {
		t.Errorf("DerivedFolder = %s, want /doc.pdf.pages", got)
	}

	off := NewPolicy(config.ExtractConfig{})
	if off.Eligible("/doc.pdf") {
		t.Error("disabled policy reported a pdf as eligible")
	}
}

type burstFixture struct {
	extractor *Extractor
	files     pictor.FileStore
	records   pictor.RecordStore
	renderer  *testutil.StubRenderer
}

func newBurstFixture(t *testing.T) *burstFixture {
	t.Helper()

	fsys, files := testutil.NewMemFiles()
	testutil.WriteFile(t, fsys, "/doc.pdf", "%PDF-stand-in")

	records := testutil.NewTestStore(t)
	resolver, err := pictor.NewResolver("/media")
	if err != nil {
		t.Fatal(err)
	}
	renderer := &testutil.StubRenderer{}
	policy := NewPolicy(config.ExtractConfig{PDF: true})
	engine := pictor.NewSyncEngine(records, files, resolver, renderer,
		testutil.NewRecordingQueue(), policy, pictor.NewNopLogger(), testutil.FixedClock())

	return &burstFixture{
		extractor: NewExtractor(policy, files, renderer, engine, pictor.NewNopLogger()),
		files:     files,
		records:   records,
		renderer:  renderer,
	}
}

func burstPayload(t *testing.T, src string) []byte {
	t.Helper()
	payload, err := json.Marshal(pictor.BurstParams{ImageID: "img-1", Src: src})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestHandleBurst(t *testing.T) {
	f := newBurstFixture(t)
	f.extractor.countPages = func(data []byte) (int, error) { return 3, nil }

	if err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/doc.pdf")); err != nil {
		t.Fatal(err)
	}

	for page := 1; page <= 3; page++ {
		path := PagePath("/doc.pdf.pages", page)
		exists, err := f.files.FileExists(path)
		if err != nil {
			t.Fatal(err)
		}
		if !exists {
			t.Errorf("page file %s missing", path)
		}

		img, err := f.records.GetImageBySrc(context.Background(), nil, path)
		if err != nil {
			t.Errorf("page record %s missing: %v", path, err)
			continue
		}
		if img.Status != model.StatusActive {
			t.Errorf("page record %s status = %s, want %s", path, img.Status, model.StatusActive)
		}
	}
	if got := f.renderer.RenderCalls(); got != 3 {
		t.Errorf("render calls = %d, want 3", got)
	}

	// The derived folder itself is cataloged too.
	folder, err := f.records.GetFolderByPath(context.Background(), nil, "/doc.pdf.pages")
	if err != nil {
		t.Fatalf("derived folder record missing: %v", err)
	}
	if folder.Status != model.StatusActive {
		t.Errorf("derived folder status = %s, want %s", folder.Status, model.StatusActive)
	}
}

func TestHandleBurstRerunOverwrites(t *testing.T) {
	f := newBurstFixture(t)
	f.extractor.countPages = func(data []byte) (int, error) { return 2, nil }

	if err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/doc.pdf")); err != nil {
		t.Fatal(err)
	}
	// A second run re-renders into the existing folder instead of failing
	// on occupied paths.
	if err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/doc.pdf")); err != nil {
		t.Fatal(err)
	}
	if got := f.renderer.RenderCalls(); got != 4 {
		t.Errorf("render calls = %d, want 4", got)
	}
}

func TestHandleBurstIneligible(t *testing.T) {
	f := newBurstFixture(t)
	f.extractor.countPages = func(data []byte) (int, error) {
		t.Error("page counting ran for an ineligible source")
		return 0, nil
	}

	if err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/photo.jpg")); err != nil {
		t.Fatal(err)
	}
	if got := f.renderer.RenderCalls(); got != 0 {
		t.Errorf("render calls = %d, want 0", got)
	}
}

func TestHandleBurstErrors(t *testing.T) {
	t.Run("bad payload", func(t *testing.T) {
		f := newBurstFixture(t)
		if err := f.extractor.HandleBurst(context.Background(), []byte("{")); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("missing source", func(t *testing.T) {
		f := newBurstFixture(t)
		err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/gone.pdf"))
		if err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("page count failure", func(t *testing.T) {
		f := newBurstFixture(t)
		f.extractor.countPages = func(data []byte) (int, error) {
			return 0, errors.New("corrupt xref")
		}
		err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/doc.pdf"))
		if err == nil || !strings.Contains(err.Error(), "corrupt xref") {
			t.Errorf("expected a page-count error, got %v", err)
		}
	})

	t.Run("render failure aborts", func(t *testing.T) {
		f := newBurstFixture(t)
		f.extractor.countPages = func(data []byte) (int, error) { return 5, nil }
		f.renderer.RenderErr = errors.New("tool crashed")
		err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/doc.pdf"))
		if err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("zero pages is a no-op", func(t *testing.T) {
		f := newBurstFixture(t)
		f.extractor.countPages = func(data []byte) (int, error) { return 0, nil }
		if err := f.extractor.HandleBurst(context.Background(), burstPayload(t, "/doc.pdf")); err != nil {
			t.Fatal(err)
		}
		exists, _ := f.files.DirExists("/doc.pdf.pages")
		if exists {
			t.Error("derived folder created for a zero-page source")
		}
	})
}

func TestPagePath(t *testing.T) {
	if got := PagePath("/doc.pdf.pages", 12); got != "/doc.pdf.pages/page-0012.png" {
		t.Errorf("PagePath = %s, want /doc.pdf.pages/page-0012.png", got)
	}
	if got := PagePath("/doc.pdf.pages", 1); got != "/doc.pdf.pages/page-0001.png" {
		t.Errorf("PagePath = %s, want /doc.pdf.pages/page-0001.png", got)
	}
}
