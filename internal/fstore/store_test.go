package fstore

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pictor/internal/pictor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(afero.NewMemMapFs())
}

func writeFile(t *testing.T, s *Store, path, content string) {
	t.Helper()
	if err := s.Write(path, strings.NewReader(content), true, true); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestExistence(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/a/one.jpg", "x")
	if err := s.MakeDirs("/a/sub"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path     string
		wantFile bool
		wantDir  bool
	}{
		{"/a/one.jpg", true, false},
		{"/a", false, true},
		{"/a/sub", false, true},
		{"/missing", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			isFile, err := s.FileExists(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if isFile != tt.wantFile {
				t.Errorf("FileExists(%s) = %v, want %v", tt.path, isFile, tt.wantFile)
			}
			isDir, err := s.DirExists(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if isDir != tt.wantDir {
				t.Errorf("DirExists(%s) = %v, want %v", tt.path, isDir, tt.wantDir)
			}
		})
	}
}

func TestWriteAndOpen(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/b/two.png", "content")

	rc, err := s.Open("/b/two.png")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Errorf("read %q, want %q", data, "content")
	}

	// Overwrite protection.
	err = s.Write("/b/two.png", strings.NewReader("new"), false, false)
	if !pictor.IsExists(err) {
		t.Errorf("expected CodeExists, got %v", err)
	}
	if err := s.Write("/b/two.png", strings.NewReader("new"), false, true); err != nil {
		t.Errorf("overwrite failed: %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Open("/nope.jpg")
	if !pictor.IsNotFound(err) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/c/three.jpg", "x")

	if err := s.Delete("/c/three.jpg"); err != nil {
		t.Fatal(err)
	}
	// Deleting again is a no-op.
	if err := s.Delete("/c/three.jpg"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	// Directories are rejected.
	if err := s.Delete("/c"); !pictor.IsConflict(err) {
		t.Errorf("expected CodeConflict, got %v", err)
	}
}

func TestDeleteDir(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/d/sub/file.jpg", "x")

	if err := s.DeleteDir("/d", true); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.DirExists("/d"); exists {
		t.Error("directory still exists after recursive delete")
	}
	// Absent directory is a no-op.
	if err := s.DeleteDir("/d", true); err != nil {
		t.Errorf("deleting absent directory: %v", err)
	}
}

func TestMoveFile(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/e/old.jpg", "payload")
	if err := s.MakeDirs("/f"); err != nil {
		t.Fatal(err)
	}

	if err := s.Move("/e/old.jpg", "/f/new.jpg"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.FileExists("/e/old.jpg"); exists {
		t.Error("source still exists after move")
	}
	rc, err := s.Open("/f/new.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Errorf("moved content = %q, want %q", data, "payload")
	}
}

func TestMoveDirectory(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/g/sub/deep.jpg", "x")

	if err := s.Move("/g", "/h"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.FileExists("/h/sub/deep.jpg"); !exists {
		t.Error("moved file missing at destination")
	}
	if exists, _ := s.DirExists("/g"); exists {
		t.Error("source directory still exists")
	}
}

func TestCopyFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys)
	writeFile(t, s, "/i/orig.jpg", "payload")

	old := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := fsys.Chtimes("/i/orig.jpg", old, old); err != nil {
		t.Fatal(err)
	}

	if err := s.Copy("/i/orig.jpg", "/i/dup.jpg"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.FileExists("/i/orig.jpg"); !exists {
		t.Error("source gone after copy")
	}
	rc, err := s.Open("/i/dup.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Errorf("copied content = %q, want %q", data, "payload")
	}
	entry, err := s.Stat("/i/dup.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.ModTime.Equal(old) {
		t.Errorf("mtime = %v, want %v", entry.ModTime, old)
	}
}

func TestCopyDirectory(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/j/sub/deep.jpg", "x")

	if err := s.Copy("/j", "/k"); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.FileExists("/k/sub/deep.jpg"); !exists {
		t.Error("copied file missing at destination")
	}
	if exists, _ := s.FileExists("/j/sub/deep.jpg"); !exists {
		t.Error("source file gone after copy")
	}
}

func TestCopyMissingSource(t *testing.T) {
	s := newTestStore(t)
	if err := s.Copy("/absent.jpg", "/anywhere.jpg"); !pictor.IsNotFound(err) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "/lib/b.jpg", "bb")
	writeFile(t, s, "/lib/a.jpg", "a")
	writeFile(t, s, "/lib/c.jpg", "ccc")
	writeFile(t, s, "/lib/.hidden.jpg", "h")
	if err := s.MakeDirs("/lib/nested"); err != nil {
		t.Fatal(err)
	}
	if err := s.MakeDirs("/lib/.cache"); err != nil {
		t.Fatal(err)
	}

	t.Run("files only, by name", func(t *testing.T) {
		entries, err := s.List("/lib", pictor.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
		}
		want := []string{"a.jpg", "b.jpg", "c.jpg"}
		if len(names) != len(want) {
			t.Fatalf("got %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("entry %d = %s, want %s", i, names[i], want[i])
			}
		}
	})

	t.Run("include folders", func(t *testing.T) {
		entries, err := s.List("/lib", pictor.ListOptions{IncludeFolders: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 4 {
			t.Fatalf("got %d entries, want 4", len(entries))
		}
	})

	t.Run("hidden entries are invisible", func(t *testing.T) {
		entries, err := s.List("/lib", pictor.ListOptions{IncludeFolders: true})
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name, ".") {
				t.Errorf("listing included hidden entry %s", e.Name)
			}
		}
	})

	t.Run("by size descending with limit", func(t *testing.T) {
		entries, err := s.List("/lib", pictor.ListOptions{Sort: pictor.SortBySize, Reverse: true, Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Fatalf("got %d entries, want 2", len(entries))
		}
		if entries[0].Name != "c.jpg" {
			t.Errorf("largest first = %s, want c.jpg", entries[0].Name)
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		entries, err := s.List("/lib", pictor.ListOptions{Offset: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("got %d entries, want 0", len(entries))
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		_, err := s.List("/nowhere", pictor.ListOptions{})
		if !pictor.IsNotFound(err) {
			t.Errorf("expected CodeNotFound, got %v", err)
		}
	})
}

func TestMovePreservesModTime(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys)
	writeFile(t, s, "/t/src.jpg", "x")

	old := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := fsys.Chtimes("/t/src.jpg", old, old); err != nil {
		t.Fatal(err)
	}

	if err := s.Move("/t/src.jpg", "/t/dst.jpg"); err != nil {
		t.Fatal(err)
	}
	entry, err := s.Stat("/t/dst.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.ModTime.Equal(old) {
		t.Errorf("mtime = %v, want %v", entry.ModTime, old)
	}
}
