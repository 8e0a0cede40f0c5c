package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pictor/internal/config"
	"pictor/internal/fstore"
	"pictor/internal/model"
	"pictor/internal/pictor"
	"pictor/internal/testutil"
)

func TestRelPath(t *testing.T) {
	root := filepath.FromSlash("/media")
	tests := []struct {
		abs    string
		want   string
		wantOK bool
	}{
		{filepath.FromSlash("/media"), "/", true},
		{filepath.FromSlash("/media/a.jpg"), "/a.jpg", true},
		{filepath.FromSlash("/media/sub/b.png"), "/sub/b.png", true},
		{filepath.FromSlash("/elsewhere/c.jpg"), "", false},
	}
	for _, tt := range tests {
		got, ok := RelPath(root, tt.abs)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("RelPath(%s) = (%q, %v), want (%q, %v)", tt.abs, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIgnored(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"/", false},
		{"/photo.jpg", false},
		{"/albums/x.png", false},
		{"/.hidden", true},
		{"/albums/.DS_Store", true},
		{"/.git/objects/ab", true},
	}
	for _, tt := range tests {
		if got := Ignored(tt.rel); got != tt.want {
			t.Errorf("Ignored(%s) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

type watchFixture struct {
	root    string
	records pictor.RecordStore
}

func startWatcher(t *testing.T) *watchFixture {
	t.Helper()

	// EvalSymlinks keeps event paths comparable to the root on platforms
	// where the temp dir sits behind a symlink.
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	records := testutil.NewTestStore(t)
	resolver, err := pictor.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	engine := pictor.NewSyncEngine(records, fstore.NewAtRoot(root), resolver,
		&testutil.StubRenderer{}, testutil.NewRecordingQueue(), nil,
		pictor.NewNopLogger(), pictor.RealClock{})

	w := New(engine, resolver, config.WatchConfig{DebounceMS: 30}, pictor.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("watcher returned an error: %v", err)
		}
	})

	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never became ready")
	}
	return &watchFixture{root: root, records: records}
}

func writeHostFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatchSyncsCreateAndRemove(t *testing.T) {
	f := startWatcher(t)
	ctx := context.Background()

	writeHostFile(t, filepath.Join(f.root, "photo.jpg"), "x")
	eventually(t, 5*time.Second, func() bool {
		img, err := f.records.GetImageBySrc(ctx, nil, "/photo.jpg")
		return err == nil && img.Status == model.StatusActive
	}, "created file never synced")

	if err := os.Remove(filepath.Join(f.root, "photo.jpg")); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, func() bool {
		img, err := f.records.GetImageBySrc(ctx, nil, "/photo.jpg")
		return err == nil && img.Status == model.StatusDeleted
	}, "removed file never retired")
}

func TestWatchCoversNewDirectories(t *testing.T) {
	f := startWatcher(t)
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(f.root, "albums"), 0o755); err != nil {
		t.Fatal(err)
	}
	// The folder record appearing means the watch now covers the new
	// directory, so a file dropped in afterwards is observed.
	eventually(t, 5*time.Second, func() bool {
		folder, err := f.records.GetFolderByPath(ctx, nil, "/albums")
		return err == nil && folder.Status == model.StatusActive
	}, "created directory never synced")

	writeHostFile(t, filepath.Join(f.root, "albums", "beach.png"), "y")
	eventually(t, 5*time.Second, func() bool {
		img, err := f.records.GetImageBySrc(ctx, nil, "/albums/beach.png")
		return err == nil && img.Status == model.StatusActive
	}, "file in new directory never synced")
}

func TestWatchIgnoresHiddenFiles(t *testing.T) {
	f := startWatcher(t)
	ctx := context.Background()

	writeHostFile(t, filepath.Join(f.root, ".tmp-upload"), "partial")
	writeHostFile(t, filepath.Join(f.root, "real.jpg"), "x")

	eventually(t, 5*time.Second, func() bool {
		_, err := f.records.GetImageBySrc(ctx, nil, "/real.jpg")
		return err == nil
	}, "visible file never synced")

	if _, err := f.records.GetImageBySrc(ctx, nil, "/.tmp-upload"); !pictor.IsNotFound(err) {
		t.Errorf("hidden file was synced: %v", err)
	}
}

func TestRunFailsOnMissingRoot(t *testing.T) {
	records := testutil.NewTestStore(t)
	resolver, err := pictor.NewResolver(filepath.FromSlash("/definitely/not/here"))
	if err != nil {
		t.Fatal(err)
	}
	engine := pictor.NewSyncEngine(records, fstore.NewAtRoot(resolver.Root()), resolver,
		&testutil.StubRenderer{}, testutil.NewRecordingQueue(), nil,
		pictor.NewNopLogger(), pictor.RealClock{})

	w := New(engine, resolver, config.WatchConfig{}, pictor.NewNopLogger())
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected an error for a missing media root")
	}
}
