package pictor_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"pictor/internal/model"
	"pictor/internal/pictor"
	"pictor/internal/testutil"
)

type mutFixture struct {
	*syncFixture
	perms *testutil.PermLog
	orch  *pictor.MutationOrchestrator
}

func newMutFixture(t *testing.T) *mutFixture {
	t.Helper()

	sf := newSyncFixture(t, nil)
	perms := testutil.NewPermLog()
	orch := pictor.NewMutationOrchestrator(sf.records, sf.files, sf.resolver, perms,
		sf.queue, sf.engine, pictor.NewNopLogger(), testutil.FixedClock())
	return &mutFixture{syncFixture: sf, perms: perms, orch: orch}
}

func (f *mutFixture) fileExists(t *testing.T, path string) bool {
	t.Helper()
	exists, err := f.files.FileExists(path)
	if err != nil {
		t.Fatalf("checking %s: %v", path, err)
	}
	return exists
}

func (f *mutFixture) dirExists(t *testing.T, path string) bool {
	t.Helper()
	exists, err := f.files.DirExists(path)
	if err != nil {
		t.Fatalf("checking %s: %v", path, err)
	}
	return exists
}

func (f *mutFixture) history(t *testing.T, imageID string) []*model.ImageHistory {
	t.Helper()
	rows, err := f.records.ListImageHistory(context.Background(), nil, imageID, 0)
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	return rows
}

func TestCreateFolder(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.MkDir(t, f.fsys, "/albums")

	folder, err := f.orch.CreateFolder(ctx, "albums/summer/beach", "alice")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if folder.Path != "/albums/summer/beach" || folder.Status != model.StatusActive {
		t.Errorf("folder = %+v, want ACTIVE /albums/summer/beach", folder)
	}
	if !f.dirExists(t, "/albums/summer/beach") {
		t.Error("directory was not created")
	}
	if got := f.folder(t, "/albums/summer").Status; got != model.StatusActive {
		t.Errorf("intermediate folder status = %v, want ACTIVE", got)
	}

	// Permission is checked once, on the deepest ancestor that existed.
	checks := f.perms.Checks()
	if len(checks) != 1 {
		t.Fatalf("permission checks = %d, want 1", len(checks))
	}
	if checks[0].Path != "/albums" || checks[0].Required != model.LevelCreateFolder || checks[0].Actor != "alice" {
		t.Errorf("check = %+v, want create_folder on /albums by alice", checks[0])
	}
}

func TestCreateFolderRejections(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()

	t.Run("root", func(t *testing.T) {
		if _, err := f.orch.CreateFolder(ctx, "/", "alice"); !pictor.IsExists(err) {
			t.Errorf("err = %v, want exists error", err)
		}
	})

	t.Run("occupied by directory", func(t *testing.T) {
		testutil.MkDir(t, f.fsys, "/dup")
		if _, err := f.orch.CreateFolder(ctx, "/dup", "alice"); !pictor.IsExists(err) {
			t.Errorf("err = %v, want exists error", err)
		}
	})

	t.Run("occupied by file", func(t *testing.T) {
		testutil.WriteFile(t, f.fsys, "/photo.jpg", "data")
		if _, err := f.orch.CreateFolder(ctx, "/photo.jpg", "alice"); !pictor.IsExists(err) {
			t.Errorf("err = %v, want exists error", err)
		}
	})

	t.Run("hidden component", func(t *testing.T) {
		if _, err := f.orch.CreateFolder(ctx, "/a/.hidden/b", "alice"); !pictor.IsSecurity(err) {
			t.Errorf("err = %v, want security error", err)
		}
		if f.dirExists(t, "/a") {
			t.Error("no directory may be created when a component is invalid")
		}
	})

	t.Run("denied", func(t *testing.T) {
		f.perms.Deny = func(path string, required model.Level, actor string) bool {
			return required == model.LevelCreateFolder
		}
		defer func() { f.perms.Deny = nil }()
		if _, err := f.orch.CreateFolder(ctx, "/blocked", "mallory"); !pictor.IsSecurity(err) {
			t.Errorf("err = %v, want security error", err)
		}
		if f.dirExists(t, "/blocked") {
			t.Error("denied create must not touch the filesystem")
		}
	})
}

func TestMoveFileRenameInPlace(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/a/old.jpg", "pixels")

	img, err := f.orch.MoveFile(ctx, "/a/old.jpg", "/a/new.jpg", "bob")
	if err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if img.Src != "/a/new.jpg" {
		t.Errorf("Src = %q, want /a/new.jpg", img.Src)
	}
	if f.fileExists(t, "/a/old.jpg") || !f.fileExists(t, "/a/new.jpg") {
		t.Error("file must live at the new path only")
	}
	stored := f.image(t, "/a/new.jpg")
	if stored.ID != img.ID {
		t.Errorf("stored ID = %q, want %q", stored.ID, img.ID)
	}

	// A rename inside one folder needs upload rights only.
	checks := f.perms.Checks()
	if len(checks) != 1 {
		t.Fatalf("permission checks = %d, want 1", len(checks))
	}
	if checks[0].Path != "/a" || checks[0].Required != model.LevelUpload {
		t.Errorf("check = %+v, want upload on /a", checks[0])
	}

	history := f.history(t, img.ID)
	if len(history) != 2 || history[0].Action != model.ActionMoved {
		t.Fatalf("history = %+v, want moved on top of created", history)
	}
	if history[0].Info != "moved from /a/old.jpg to /a/new.jpg" {
		t.Errorf("history info = %q", history[0].Info)
	}

	if got := len(f.queue.Tasks(pictor.TaskCacheInvalidate)); got != 1 {
		t.Errorf("invalidate tasks = %d, want 1", got)
	}
}

func TestMoveFileAcrossFolders(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/a/pic.jpg", "pixels")
	testutil.MkDir(t, f.fsys, "/b")

	img, err := f.orch.MoveFile(ctx, "/a/pic.jpg", "/b/pic.jpg", "bob")
	if err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if img.FolderID != f.folder(t, "/b").ID {
		t.Error("record must point at the destination folder")
	}

	checks := f.perms.Checks()
	if len(checks) != 2 {
		t.Fatalf("permission checks = %d, want 2", len(checks))
	}
	if checks[0].Path != "/b" || checks[0].Required != model.LevelUpload {
		t.Errorf("first check = %+v, want upload on /b", checks[0])
	}
	if checks[1].Path != "/a" || checks[1].Required != model.LevelDelete {
		t.Errorf("second check = %+v, want delete on /a", checks[1])
	}
}

func TestMoveFileRejections(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/a/pic.jpg", "pixels")
	testutil.WriteFile(t, f.fsys, "/a/taken.jpg", "other")

	t.Run("missing source", func(t *testing.T) {
		if _, err := f.orch.MoveFile(ctx, "/a/ghost.jpg", "/a/x.jpg", "bob"); !pictor.IsNotFound(err) {
			t.Errorf("err = %v, want not found", err)
		}
	})

	t.Run("occupied target", func(t *testing.T) {
		if _, err := f.orch.MoveFile(ctx, "/a/pic.jpg", "/a/taken.jpg", "bob"); !pictor.IsExists(err) {
			t.Errorf("err = %v, want exists error", err)
		}
	})

	t.Run("missing target folder", func(t *testing.T) {
		if _, err := f.orch.MoveFile(ctx, "/a/pic.jpg", "/nowhere/pic.jpg", "bob"); !pictor.IsNotFound(err) {
			t.Errorf("err = %v, want not found", err)
		}
	})

	t.Run("hidden target name", func(t *testing.T) {
		if _, err := f.orch.MoveFile(ctx, "/a/pic.jpg", "/a/.pic.jpg", "bob"); !pictor.IsSecurity(err) {
			t.Errorf("err = %v, want security error", err)
		}
	})

	t.Run("root", func(t *testing.T) {
		if _, err := f.orch.MoveFile(ctx, "/", "/a/x.jpg", "bob"); !pictor.IsConflict(err) {
			t.Errorf("err = %v, want conflict", err)
		}
	})

	t.Run("denied", func(t *testing.T) {
		f.perms.Deny = func(path string, required model.Level, actor string) bool { return true }
		defer func() { f.perms.Deny = nil }()
		if _, err := f.orch.MoveFile(ctx, "/a/pic.jpg", "/a/moved.jpg", "mallory"); !pictor.IsSecurity(err) {
			t.Errorf("err = %v, want security error", err)
		}
		if !f.fileExists(t, "/a/pic.jpg") {
			t.Error("denied move must leave the file in place")
		}
	})
}

func TestMoveFilePurgesDeletedTargetRecord(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()

	// A record at the target path from an earlier life, now DELETED.
	testutil.WriteFile(t, f.fsys, "/a/one.jpg", "v1")
	old, err := f.engine.SyncImage(ctx, "/a/one.jpg", pictor.SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	testutil.Remove(t, f.fsys, "/a/one.jpg")
	if _, err := f.engine.SyncImage(ctx, "/a/one.jpg", pictor.SyncOptions{}); err != nil {
		t.Fatalf("retire sync: %v", err)
	}

	testutil.WriteFile(t, f.fsys, "/a/two.jpg", "v2")
	moved, err := f.orch.MoveFile(ctx, "/a/two.jpg", "/a/one.jpg", "bob")
	if err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if got := f.image(t, "/a/one.jpg").ID; got != moved.ID {
		t.Errorf("record at target = %q, want moved image %q", got, moved.ID)
	}
	if _, err := f.records.GetImageByID(ctx, nil, old.ID); !pictor.IsNotFound(err) {
		t.Errorf("stale record lookup = %v, want not found", err)
	}
}

// flakyStore fails SaveImage on demand to exercise compensation paths.
type flakyStore struct {
	pictor.RecordStore
	failSaveImage bool
}

func (s *flakyStore) SaveImage(ctx context.Context, tx pictor.Tx, img *model.Image) error {
	if s.failSaveImage {
		return errors.New("induced record failure")
	}
	return s.RecordStore.SaveImage(ctx, tx, img)
}

func TestMoveFileCompensatesFailedCommit(t *testing.T) {
	ctx := context.Background()
	fsys, files := testutil.NewMemFiles()
	store := &flakyStore{RecordStore: testutil.NewTestStore(t)}
	queue := testutil.NewRecordingQueue()
	resolver, err := pictor.NewResolver("/media")
	if err != nil {
		t.Fatalf("creating resolver: %v", err)
	}
	logger := pictor.NewNopLogger()
	clock := testutil.FixedClock()
	engine := pictor.NewSyncEngine(store, files, resolver, &testutil.StubRenderer{}, queue, nil, logger, clock)
	orch := pictor.NewMutationOrchestrator(store, files, resolver, testutil.NewPermLog(), queue, engine, logger, clock)

	testutil.WriteFile(t, fsys, "/a/pic.jpg", "pixels")
	if _, err := engine.SyncImage(ctx, "/a/pic.jpg", pictor.SyncOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	store.failSaveImage = true
	_, err = orch.MoveFile(ctx, "/a/pic.jpg", "/a/moved.jpg", "bob")
	if err == nil || !strings.Contains(err.Error(), "induced record failure") {
		t.Fatalf("err = %v, want induced failure", err)
	}

	// The file is back at the source and the record never changed.
	if exists, _ := files.FileExists("/a/pic.jpg"); !exists {
		t.Error("file must be moved back after a failed commit")
	}
	if exists, _ := files.FileExists("/a/moved.jpg"); exists {
		t.Error("destination must be vacated after a failed commit")
	}
	img, err := store.GetImageBySrc(ctx, nil, "/a/pic.jpg")
	if err != nil {
		t.Fatalf("loading record: %v", err)
	}
	if img.Status != model.StatusActive {
		t.Errorf("record status = %v, want ACTIVE", img.Status)
	}
	if got := len(queue.Tasks(pictor.TaskCacheInvalidate)); got != 0 {
		t.Errorf("invalidate tasks = %d, want none after failed move", got)
	}
}

func TestDeleteFile(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/a/x.jpg", "pixels")

	img, err := f.orch.DeleteFile(ctx, "/a/x.jpg", "dave")
	if err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if img.Status != model.StatusDeleted {
		t.Errorf("Status = %v, want DELETED", img.Status)
	}
	if f.fileExists(t, "/a/x.jpg") {
		t.Error("file must be removed from disk")
	}
	if got := f.image(t, "/a/x.jpg").Status; got != model.StatusDeleted {
		t.Errorf("stored status = %v, want DELETED", got)
	}

	checks := f.perms.Checks()
	if len(checks) != 1 || checks[0].Path != "/a" || checks[0].Required != model.LevelDelete {
		t.Errorf("checks = %+v, want one delete check on /a", checks)
	}

	history := f.history(t, img.ID)
	if len(history) != 2 || history[0].Action != model.ActionDeleted || history[0].Info != "deleted /a/x.jpg" {
		t.Errorf("history = %+v, want deleted row on top", history)
	}
	if got := len(f.queue.Tasks(pictor.TaskCacheInvalidate)); got != 1 {
		t.Errorf("invalidate tasks = %d, want 1", got)
	}

	// Deleting again is a no-op.
	again, err := f.orch.DeleteFile(ctx, "/a/x.jpg", "dave")
	if err != nil {
		t.Fatalf("second DeleteFile: %v", err)
	}
	if again.Status != model.StatusDeleted {
		t.Errorf("second delete status = %v, want DELETED", again.Status)
	}
	if got := len(f.perms.Checks()); got != 1 {
		t.Errorf("checks after no-op = %d, want 1", got)
	}
	if got := len(f.queue.Tasks(pictor.TaskCacheInvalidate)); got != 1 {
		t.Errorf("invalidate tasks after no-op = %d, want 1", got)
	}

	if _, err := f.orch.DeleteFile(ctx, "/never/was.jpg", "dave"); !pictor.IsNotFound(err) {
		t.Errorf("missing file err = %v, want not found", err)
	}
}

func TestDeleteFileDenied(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/a/keep.jpg", "pixels")
	f.perms.Deny = func(path string, required model.Level, actor string) bool { return true }

	if _, err := f.orch.DeleteFile(ctx, "/a/keep.jpg", "mallory"); !pictor.IsSecurity(err) {
		t.Errorf("err = %v, want security error", err)
	}
	if !f.fileExists(t, "/a/keep.jpg") {
		t.Error("denied delete must leave the file in place")
	}
	if got := f.image(t, "/a/keep.jpg").Status; got != model.StatusActive {
		t.Errorf("record status = %v, want ACTIVE", got)
	}
}

func TestMoveFolder(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/top/old/a.jpg", "a")
	testutil.WriteFile(t, f.fsys, "/top/old/sub/b.jpg", "b")
	testutil.MkDir(t, f.fsys, "/elsewhere")
	a, err := f.engine.SyncImage(ctx, "/top/old/a.jpg", pictor.SyncOptions{})
	if err != nil {
		t.Fatalf("sync a: %v", err)
	}
	b, err := f.engine.SyncImage(ctx, "/top/old/sub/b.jpg", pictor.SyncOptions{})
	if err != nil {
		t.Fatalf("sync b: %v", err)
	}
	subID := f.folder(t, "/top/old/sub").ID

	moved, err := f.orch.MoveFolder(ctx, "/top/old", "/elsewhere/new", "carol")
	if err != nil {
		t.Fatalf("MoveFolder: %v", err)
	}
	if moved.Path != "/elsewhere/new" {
		t.Errorf("Path = %q, want /elsewhere/new", moved.Path)
	}
	if moved.ParentID == nil || *moved.ParentID != f.folder(t, "/elsewhere").ID {
		t.Error("moved folder must point at its new parent")
	}
	if f.dirExists(t, "/top/old") || !f.fileExists(t, "/elsewhere/new/sub/b.jpg") {
		t.Error("subtree must be moved on disk")
	}

	// Records keep their IDs under the rewritten paths.
	if got := f.image(t, "/elsewhere/new/a.jpg").ID; got != a.ID {
		t.Errorf("a ID = %q, want %q", got, a.ID)
	}
	if got := f.image(t, "/elsewhere/new/sub/b.jpg").ID; got != b.ID {
		t.Errorf("b ID = %q, want %q", got, b.ID)
	}
	if got := f.folder(t, "/elsewhere/new/sub").ID; got != subID {
		t.Errorf("sub folder ID = %q, want %q", got, subID)
	}

	checks := f.perms.Checks()
	if len(checks) != 2 {
		t.Fatalf("permission checks = %d, want 2", len(checks))
	}
	if checks[0].Path != "/elsewhere" || checks[0].Required != model.LevelCreateFolder {
		t.Errorf("first check = %+v, want create_folder on /elsewhere", checks[0])
	}
	if checks[1].Path != "/top" || checks[1].Required != model.LevelDeleteFolder {
		t.Errorf("second check = %+v, want delete_folder on /top", checks[1])
	}

	for _, img := range []*model.Image{a, b} {
		history := f.history(t, img.ID)
		if len(history) == 0 || history[0].Action != model.ActionMoved {
			t.Errorf("image %s history = %+v, want moved row on top", img.ID, history)
		}
	}

	invalidates := f.queue.Tasks(pictor.TaskCacheInvalidate)
	if len(invalidates) != 1 {
		t.Fatalf("invalidate tasks = %d, want 1", len(invalidates))
	}
	var p pictor.InvalidateParams
	if err := json.Unmarshal(invalidates[0].Params, &p); err != nil {
		t.Fatalf("decoding invalidate params: %v", err)
	}
	if len(p.ImageIDs) != 2 {
		t.Errorf("invalidate IDs = %v, want both images", p.ImageIDs)
	}
}

func TestMoveFolderRenameInPlace(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.MkDir(t, f.fsys, "/top/old")
	if _, err := f.engine.SyncFolder(ctx, "/top/old", pictor.SyncOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := f.orch.MoveFolder(ctx, "/top/old", "/top/renamed", "carol"); err != nil {
		t.Fatalf("MoveFolder: %v", err)
	}

	checks := f.perms.Checks()
	if len(checks) != 1 {
		t.Fatalf("permission checks = %d, want 1 for a rename", len(checks))
	}
	if checks[0].Path != "/top" || checks[0].Required != model.LevelCreateFolder {
		t.Errorf("check = %+v, want create_folder on /top", checks[0])
	}
}

func TestMoveFolderRejections(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.MkDir(t, f.fsys, "/x/y")
	testutil.MkDir(t, f.fsys, "/occupied")

	tests := []struct {
		name  string
		src   string
		dst   string
		check func(error) bool
	}{
		{"into itself", "/x", "/x/z", pictor.IsConflict},
		{"onto itself", "/x", "/x", pictor.IsConflict},
		{"root source", "/", "/z", pictor.IsSecurity},
		{"root target", "/x", "/", pictor.IsExists},
		{"missing source", "/ghost", "/z", pictor.IsNotFound},
		{"occupied target", "/x", "/occupied", pictor.IsExists},
		{"missing target parent", "/x", "/nowhere/z", pictor.IsNotFound},
		{"hidden target name", "/x", "/.z", pictor.IsSecurity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.orch.MoveFolder(ctx, tt.src, tt.dst, "carol"); !tt.check(err) {
				t.Errorf("MoveFolder(%s, %s) = %v", tt.src, tt.dst, err)
			}
		})
	}

	t.Run("denied", func(t *testing.T) {
		f.perms.Deny = func(path string, required model.Level, actor string) bool { return true }
		defer func() { f.perms.Deny = nil }()
		if _, err := f.orch.MoveFolder(ctx, "/x", "/z", "mallory"); !pictor.IsSecurity(err) {
			t.Errorf("err = %v, want security error", err)
		}
		if !f.dirExists(t, "/x") || f.dirExists(t, "/z") {
			t.Error("denied move must leave the tree in place")
		}
	})
}

func TestMoveFolderPurgesDeletedTargetRecords(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()

	testutil.WriteFile(t, f.fsys, "/old-life/i.jpg", "pixels")
	oldImg, err := f.engine.SyncImage(ctx, "/old-life/i.jpg", pictor.SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	oldFolderID := f.folder(t, "/old-life").ID
	if _, err := f.orch.DeleteFolder(ctx, "/old-life", "carol"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}

	testutil.MkDir(t, f.fsys, "/fresh")
	moved, err := f.orch.MoveFolder(ctx, "/fresh", "/old-life", "carol")
	if err != nil {
		t.Fatalf("MoveFolder onto deleted path: %v", err)
	}
	if got := f.folder(t, "/old-life").ID; got != moved.ID {
		t.Errorf("record at path = %q, want moved folder %q", got, moved.ID)
	}
	if _, err := f.records.GetFolderByID(ctx, nil, oldFolderID); !pictor.IsNotFound(err) {
		t.Errorf("stale folder lookup = %v, want not found", err)
	}
	if _, err := f.records.GetImageByID(ctx, nil, oldImg.ID); !pictor.IsNotFound(err) {
		t.Errorf("stale image lookup = %v, want not found", err)
	}
}

func TestDeleteFolder(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/gone/a.jpg", "pixels")
	img, err := f.engine.SyncImage(ctx, "/gone/a.jpg", pictor.SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	folder, err := f.orch.DeleteFolder(ctx, "/gone", "dave")
	if err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if folder.Status != model.StatusDeleted {
		t.Errorf("Status = %v, want DELETED", folder.Status)
	}
	if f.dirExists(t, "/gone") {
		t.Error("directory must be removed from disk")
	}
	if got := f.folder(t, "/gone").Status; got != model.StatusDeleted {
		t.Errorf("stored folder status = %v, want DELETED", got)
	}
	if got := f.image(t, "/gone/a.jpg").Status; got != model.StatusDeleted {
		t.Errorf("stored image status = %v, want DELETED", got)
	}

	checks := f.perms.Checks()
	if len(checks) != 1 || checks[0].Path != "/gone" || checks[0].Required != model.LevelDeleteFolder {
		t.Errorf("checks = %+v, want one delete_folder check on /gone", checks)
	}

	history := f.history(t, img.ID)
	if len(history) == 0 || history[0].Action != model.ActionDeleted || history[0].Info != "folder deleted: /gone" {
		t.Errorf("history = %+v, want folder deletion row on top", history)
	}
	if got := len(f.queue.Tasks(pictor.TaskCacheInvalidate)); got != 1 {
		t.Errorf("invalidate tasks = %d, want 1", got)
	}

	// Deleting again is a no-op.
	if _, err := f.orch.DeleteFolder(ctx, "/gone", "dave"); err != nil {
		t.Fatalf("second DeleteFolder: %v", err)
	}
	if got := len(f.queue.Tasks(pictor.TaskCacheInvalidate)); got != 1 {
		t.Errorf("invalidate tasks after no-op = %d, want 1", got)
	}

	if _, err := f.orch.DeleteFolder(ctx, "/", "dave"); !pictor.IsSecurity(err) {
		t.Errorf("root delete err = %v, want security error", err)
	}
	if _, err := f.orch.DeleteFolder(ctx, "/never", "dave"); !pictor.IsNotFound(err) {
		t.Errorf("missing folder err = %v, want not found", err)
	}
}

func TestEditImage(t *testing.T) {
	f := newMutFixture(t)
	ctx := context.Background()
	testutil.WriteFile(t, f.fsys, "/a/pic.jpg", "pixels")

	title := "Sunset"
	img, err := f.orch.EditImage(ctx, "/a/pic.jpg", &title, nil, "erin")
	if err != nil {
		t.Fatalf("EditImage: %v", err)
	}
	if img.Title != "Sunset" || img.Description != "" {
		t.Errorf("img = %+v, want title only", img)
	}

	desc := "Evening at the pier"
	if _, err := f.orch.EditImage(ctx, "/a/pic.jpg", nil, &desc, "erin"); err != nil {
		t.Fatalf("second EditImage: %v", err)
	}
	stored := f.image(t, "/a/pic.jpg")
	if stored.Title != "Sunset" || stored.Description != "Evening at the pier" {
		t.Errorf("stored = %+v, want both fields kept", stored)
	}

	history := f.history(t, img.ID)
	if len(history) != 3 || history[0].Action != model.ActionEdited {
		t.Fatalf("history = %+v, want two edits on top of created", history)
	}

	// A no-op edit writes nothing.
	if _, err := f.orch.EditImage(ctx, "/a/pic.jpg", nil, nil, "erin"); err != nil {
		t.Fatalf("no-op EditImage: %v", err)
	}
	if got := len(f.history(t, img.ID)); got != 3 {
		t.Errorf("history rows after no-op = %d, want 3", got)
	}

	// Metadata does not touch pixels, so nothing is invalidated.
	if got := len(f.queue.Tasks(pictor.TaskCacheInvalidate)); got != 0 {
		t.Errorf("invalidate tasks = %d, want 0", got)
	}

	checks := f.perms.Checks()
	for _, c := range checks {
		if c.Required != model.LevelEdit {
			t.Errorf("check = %+v, want edit level", c)
		}
	}

	if _, err := f.orch.EditImage(ctx, "/a/ghost.jpg", &title, nil, "erin"); !pictor.IsNotFound(err) {
		t.Errorf("missing image err = %v, want not found", err)
	}
}
