package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"pictor/internal/model"
	"pictor/internal/pictor"
)

// SQLiteStore implements the record store on SQLite. It is the default
// backend for single-host deployments.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ pictor.RecordStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path. The schema must already be
// migrated; use the migrations package for that.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, path: ""}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to :memory: would otherwise see its own
	// empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Concurrent syncs race on insert-or-ignore creation; wait for locks
	// instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func (s *SQLiteStore) Begin(ctx context.Context) (pictor.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the query target for an optional transaction.
func (s *SQLiteStore) conn(tx pictor.Tx) (dbtx, error) {
	if tx == nil {
		return s.db, nil
	}
	st, ok := tx.(*sqliteTx)
	if !ok {
		return nil, fmt.Errorf("transaction was not created by this store")
	}
	return st.tx, nil
}

// inTx runs fn inside the supplied transaction, or inside its own when tx
// is nil.
func (s *SQLiteStore) inTx(ctx context.Context, tx pictor.Tx, fn func(q dbtx) error) error {
	if tx != nil {
		q, err := s.conn(tx)
		if err != nil {
			return err
		}
		return fn(q)
	}
	own, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer own.Rollback()
	if err := fn(own); err != nil {
		return err
	}
	return own.Commit()
}

// Folder operations

const folderColumns = "id, path, parent_id, status, created_at, updated_at"

func (s *SQLiteStore) GetFolderByPath(ctx context.Context, tx pictor.Tx, path string) (*model.Folder, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE path = ?", path)
	return scanFolder(row, path)
}

func (s *SQLiteStore) GetFolderByID(ctx context.Context, tx pictor.Tx, id string) (*model.Folder, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = ?", id)
	return scanFolder(row, id)
}

func (s *SQLiteStore) GetOrCreateFolder(ctx context.Context, tx pictor.Tx, path string, parentID *string, onCreate func(*model.Folder) error) (*model.Folder, bool, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.GetFolderByPath(ctx, tx, path)
	if err == nil {
		return existing, false, nil
	}
	if !pictor.IsNotFound(err) {
		return nil, false, err
	}

	now := time.Now()
	candidate := &model.Folder{
		ID:        uuid.New().String(),
		Path:      path,
		ParentID:  parentID,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if onCreate != nil {
		if err := onCreate(candidate); err != nil {
			return nil, false, err
		}
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO folders (id, path, parent_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO NOTHING`,
		candidate.ID, candidate.Path, nullString(candidate.ParentID), candidate.Status, candidate.CreatedAt, candidate.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting folder %s: %w", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking insert result: %w", err)
	}
	if affected == 1 {
		return candidate, true, nil
	}

	// Lost the creation race: another writer inserted the same path.
	// Converge on their record.
	winner, err := s.GetFolderByPath(ctx, tx, path)
	if err != nil {
		return nil, false, fmt.Errorf("re-reading folder after conflict: %w", err)
	}
	return winner, false, nil
}

func (s *SQLiteStore) SaveFolder(ctx context.Context, tx pictor.Tx, folder *model.Folder) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		"UPDATE folders SET path = ?, parent_id = ?, status = ?, updated_at = ? WHERE id = ?",
		folder.Path, nullString(folder.ParentID), folder.Status, folder.UpdatedAt, folder.ID)
	if err != nil {
		return fmt.Errorf("updating folder %s: %w", folder.Path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return pictor.E(pictor.CodeNotFound, "folder record not found", folder.Path)
	}
	return nil
}

func (s *SQLiteStore) SoftDeleteFolder(ctx context.Context, tx pictor.Tx, id string, cascade bool) ([]string, error) {
	var imageIDs []string
	err := s.inTx(ctx, tx, func(q dbtx) error {
		row := q.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = ?", id)
		folder, err := scanFolder(row, id)
		if err != nil {
			return err
		}
		now := time.Now()

		if !cascade {
			_, err := q.ExecContext(ctx, "UPDATE folders SET status = ?, updated_at = ? WHERE id = ?",
				model.StatusDeleted, now, id)
			if err != nil {
				return fmt.Errorf("soft-deleting folder: %w", err)
			}
			return nil
		}

		under := underPattern(folder.Path)
		rows, err := q.QueryContext(ctx,
			`SELECT id FROM images WHERE status = ? AND src LIKE ? ESCAPE '\'`,
			model.StatusActive, under)
		if err != nil {
			return fmt.Errorf("collecting subtree images: %w", err)
		}
		for rows.Next() {
			var imgID string
			if err := rows.Scan(&imgID); err != nil {
				rows.Close()
				return fmt.Errorf("scanning image id: %w", err)
			}
			imageIDs = append(imageIDs, imgID)
		}
		// The transaction holds a single connection, so the rows must be
		// closed before the updates below can run.
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterating subtree images: %w", err)
		}

		if _, err := q.ExecContext(ctx,
			`UPDATE images SET status = ?, updated_at = ? WHERE status = ? AND src LIKE ? ESCAPE '\'`,
			model.StatusDeleted, now, model.StatusActive, under); err != nil {
			return fmt.Errorf("soft-deleting subtree images: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE folders SET status = ?, updated_at = ? WHERE status = ? AND (id = ? OR path LIKE ? ESCAPE '\')`,
			model.StatusDeleted, now, model.StatusActive, id, under); err != nil {
			return fmt.Errorf("soft-deleting subtree folders: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imageIDs, nil
}

func (s *SQLiteStore) RenameSubtree(ctx context.Context, tx pictor.Tx, oldPath, newPath string) error {
	return s.inTx(ctx, tx, func(q dbtx) error {
		now := time.Now()
		// substr is 1-based and counts characters, as does utf8.RuneCountInString.
		cut := utf8.RuneCountInString(oldPath) + 1
		under := underPattern(oldPath)

		if _, err := q.ExecContext(ctx,
			"UPDATE folders SET path = ?, updated_at = ? WHERE path = ?",
			newPath, now, oldPath); err != nil {
			return fmt.Errorf("renaming folder record: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE folders SET path = ? || substr(path, ?), updated_at = ? WHERE path LIKE ? ESCAPE '\'`,
			newPath, cut, now, under); err != nil {
			return fmt.Errorf("renaming descendant folder records: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE images SET src = ? || substr(src, ?), updated_at = ? WHERE src LIKE ? ESCAPE '\'`,
			newPath, cut, now, under); err != nil {
			return fmt.Errorf("renaming descendant image records: %w", err)
		}
		return nil
	})
}

// Image operations

const imageColumns = "id, src, folder_id, status, width, height, title, description, created_at, updated_at"

func (s *SQLiteStore) GetImageBySrc(ctx context.Context, tx pictor.Tx, src string) (*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM images WHERE src = ?", src)
	return scanImage(row, src)
}

func (s *SQLiteStore) GetImageByID(ctx context.Context, tx pictor.Tx, id string) (*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ?", id)
	return scanImage(row, id)
}

func (s *SQLiteStore) GetOrCreateImage(ctx context.Context, tx pictor.Tx, src, folderID string, onCreate func(*model.Image) error) (*model.Image, bool, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.GetImageBySrc(ctx, tx, src)
	if err == nil {
		return existing, false, nil
	}
	if !pictor.IsNotFound(err) {
		return nil, false, err
	}

	now := time.Now()
	candidate := &model.Image{
		ID:        uuid.New().String(),
		Src:       src,
		FolderID:  folderID,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if onCreate != nil {
		if err := onCreate(candidate); err != nil {
			return nil, false, err
		}
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO images (id, src, folder_id, status, width, height, title, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (src) DO NOTHING`,
		candidate.ID, candidate.Src, candidate.FolderID, candidate.Status,
		nullInt(candidate.Width), nullInt(candidate.Height),
		candidate.Title, candidate.Description, candidate.CreatedAt, candidate.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting image %s: %w", src, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking insert result: %w", err)
	}
	if affected == 1 {
		return candidate, true, nil
	}

	winner, err := s.GetImageBySrc(ctx, tx, src)
	if err != nil {
		return nil, false, fmt.Errorf("re-reading image after conflict: %w", err)
	}
	return winner, false, nil
}

func (s *SQLiteStore) SaveImage(ctx context.Context, tx pictor.Tx, image *model.Image) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE images SET src = ?, folder_id = ?, status = ?, width = ?, height = ?,
		 title = ?, description = ?, updated_at = ? WHERE id = ?`,
		image.Src, image.FolderID, image.Status, nullInt(image.Width), nullInt(image.Height),
		image.Title, image.Description, image.UpdatedAt, image.ID)
	if err != nil {
		return fmt.Errorf("updating image %s: %w", image.Src, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return pictor.E(pictor.CodeNotFound, "image record not found", image.Src)
	}
	return nil
}

func (s *SQLiteStore) SoftDeleteImage(ctx context.Context, tx pictor.Tx, id string) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		"UPDATE images SET status = ?, updated_at = ? WHERE id = ?",
		model.StatusDeleted, time.Now(), id); err != nil {
		return fmt.Errorf("soft-deleting image: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFolderImages(ctx context.Context, tx pictor.Tx, folderID string, includeDeleted bool) ([]*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + imageColumns + " FROM images WHERE folder_id = ?"
	args := []any{folderID}
	if !includeDeleted {
		query += " AND status = ?"
		args = append(args, model.StatusActive)
	}
	query += " ORDER BY src"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing folder images: %w", err)
	}
	return collectImages(rows)
}

func (s *SQLiteStore) ListImagesUnder(ctx context.Context, tx pictor.Tx, path string, includeDeleted bool) ([]*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + imageColumns + ` FROM images WHERE (src = ? OR src LIKE ? ESCAPE '\')`
	args := []any{path, underPattern(path)}
	if !includeDeleted {
		query += " AND status = ?"
		args = append(args, model.StatusActive)
	}
	query += " ORDER BY src"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing images under %s: %w", path, err)
	}
	return collectImages(rows)
}

// History operations

func (s *SQLiteStore) AddImageHistory(ctx context.Context, tx pictor.Tx, h *model.ImageHistory) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		"INSERT INTO image_history (image_id, actor, action, info, created_at) VALUES (?, ?, ?, ?, ?)",
		h.ImageID, nullString(h.Actor), h.Action, h.Info, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting history row: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListImageHistory(ctx context.Context, tx pictor.Tx, imageID string, limit int) ([]*model.ImageHistory, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, image_id, actor, action, info, created_at FROM image_history
	          WHERE image_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{imageID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing image history: %w", err)
	}
	defer rows.Close()

	var out []*model.ImageHistory
	for rows.Next() {
		var h model.ImageHistory
		var actor sql.NullString
		if err := rows.Scan(&h.ID, &h.ImageID, &actor, &h.Action, &h.Info, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if actor.Valid {
			h.Actor = &actor.String
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// Purge operations

func (s *SQLiteStore) PurgeDeletedUnder(ctx context.Context, tx pictor.Tx, path string) (int64, error) {
	var purged int64
	err := s.inTx(ctx, tx, func(q dbtx) error {
		under := underPattern(path)
		// Images first: folders cannot be removed while images reference
		// them. History rows follow their image via ON DELETE CASCADE.
		res, err := q.ExecContext(ctx,
			`DELETE FROM images WHERE status = ? AND (src = ? OR src LIKE ? ESCAPE '\')`,
			model.StatusDeleted, path, under)
		if err != nil {
			return fmt.Errorf("purging deleted images: %w", err)
		}
		n, _ := res.RowsAffected()
		purged += n

		res, err = q.ExecContext(ctx,
			`DELETE FROM folders WHERE status = ? AND (path = ? OR path LIKE ? ESCAPE '\')`,
			model.StatusDeleted, path, under)
		if err != nil {
			return fmt.Errorf("purging deleted folders: %w", err)
		}
		n, _ = res.RowsAffected()
		purged += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func (s *SQLiteStore) PurgeDeletedImageAt(ctx context.Context, tx pictor.Tx, src string) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		"DELETE FROM images WHERE src = ? AND status = ?", src, model.StatusDeleted); err != nil {
		return fmt.Errorf("purging deleted image at %s: %w", src, err)
	}
	return nil
}

func (s *SQLiteStore) PurgeDeletedFolderAt(ctx context.Context, tx pictor.Tx, path string) error {
	_, err := s.PurgeDeletedUnder(ctx, tx, path)
	return err
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(row rowScanner, ref string) (*model.Folder, error) {
	var f model.Folder
	var parent sql.NullString
	err := row.Scan(&f.ID, &f.Path, &parent, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pictor.E(pictor.CodeNotFound, "folder record not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning folder row: %w", err)
	}
	if parent.Valid {
		f.ParentID = &parent.String
	}
	return &f, nil
}

func scanImage(row rowScanner, ref string) (*model.Image, error) {
	var img model.Image
	var width, height sql.NullInt64
	err := row.Scan(&img.ID, &img.Src, &img.FolderID, &img.Status, &width, &height,
		&img.Title, &img.Description, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pictor.E(pictor.CodeNotFound, "image record not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning image row: %w", err)
	}
	if width.Valid {
		w := int(width.Int64)
		img.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		img.Height = &h
	}
	return &img, nil
}

func collectImages(rows *sql.Rows) ([]*model.Image, error) {
	defer rows.Close()
	var out []*model.Image
	for rows.Next() {
		img, err := scanImage(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// likeEscape escapes LIKE wildcards so paths containing % or _ match
// literally.
func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// underPattern matches every path strictly below path.
func underPattern(path string) string {
	if path == "/" {
		return "/%"
	}
	return likeEscape(path) + "/%"
}
