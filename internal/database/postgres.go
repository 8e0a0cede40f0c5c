package database

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictor/internal/model"
	"pictor/internal/pictor"
)

// PostgresStore implements the record store on PostgreSQL for deployments
// where several hosts share one catalog.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ pictor.RecordStore = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool so callers can wrap it for migrations.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgxTx struct {
	tx  pgx.Tx
	ctx context.Context
}

func (t *pgxTx) Commit() error   { return t.tx.Commit(t.ctx) }
func (t *pgxTx) Rollback() error { return t.tx.Rollback(t.ctx) }

func (s *PostgresStore) Begin(ctx context.Context) (pictor.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &pgxTx{tx: tx, ctx: ctx}, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) conn(tx pictor.Tx) (querier, error) {
	if tx == nil {
		return s.pool, nil
	}
	pt, ok := tx.(*pgxTx)
	if !ok {
		return nil, fmt.Errorf("transaction was not created by this store")
	}
	return pt.tx, nil
}

func (s *PostgresStore) inTx(ctx context.Context, tx pictor.Tx, fn func(q querier) error) error {
	if tx != nil {
		q, err := s.conn(tx)
		if err != nil {
			return err
		}
		return fn(q)
	}
	own, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer own.Rollback(ctx)
	if err := fn(own); err != nil {
		return err
	}
	return own.Commit(ctx)
}

// Folder operations

func (s *PostgresStore) GetFolderByPath(ctx context.Context, tx pictor.Tx, path string) (*model.Folder, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, "SELECT "+folderColumns+" FROM folders WHERE path = $1", path)
	return scanPgFolder(row, path)
}

func (s *PostgresStore) GetFolderByID(ctx context.Context, tx pictor.Tx, id string) (*model.Folder, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = $1", id)
	return scanPgFolder(row, id)
}

func (s *PostgresStore) GetOrCreateFolder(ctx context.Context, tx pictor.Tx, path string, parentID *string, onCreate func(*model.Folder) error) (*model.Folder, bool, error) {
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

	tag, err := q.Exec(ctx,
		`INSERT INTO folders (id, path, parent_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (path) DO NOTHING`,
		candidate.ID, candidate.Path, candidate.ParentID, candidate.Status, candidate.CreatedAt, candidate.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting folder %s: %w", path, err)
	}
	if tag.RowsAffected() == 1 {
		return candidate, true, nil
	}

	winner, err := s.GetFolderByPath(ctx, tx, path)
	if err != nil {
		return nil, false, fmt.Errorf("re-reading folder after conflict: %w", err)
	}
	return winner, false, nil
}

func (s *PostgresStore) SaveFolder(ctx context.Context, tx pictor.Tx, folder *model.Folder) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		"UPDATE folders SET path = $1, parent_id = $2, status = $3, updated_at = $4 WHERE id = $5",
		folder.Path, folder.ParentID, folder.Status, folder.UpdatedAt, folder.ID)
	if err != nil {
		return fmt.Errorf("updating folder %s: %w", folder.Path, err)
	}
	if tag.RowsAffected() == 0 {
		return pictor.E(pictor.CodeNotFound, "folder record not found", folder.Path)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteFolder(ctx context.Context, tx pictor.Tx, id string, cascade bool) ([]string, error) {
	var imageIDs []string
	err := s.inTx(ctx, tx, func(q querier) error {
		row := q.QueryRow(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = $1", id)
		folder, err := scanPgFolder(row, id)
		if err != nil {
			return err
		}
		now := time.Now()

		if !cascade {
			_, err := q.Exec(ctx, "UPDATE folders SET status = $1, updated_at = $2 WHERE id = $3",
				model.StatusDeleted, now, id)
			if err != nil {
				return fmt.Errorf("soft-deleting folder: %w", err)
			}
			return nil
		}

		under := underPattern(folder.Path)
		rows, err := q.Query(ctx,
			`SELECT id FROM images WHERE status = $1 AND src LIKE $2 ESCAPE '\'`,
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
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating subtree images: %w", err)
		}

		if _, err := q.Exec(ctx,
			`UPDATE images SET status = $1, updated_at = $2 WHERE status = $3 AND src LIKE $4 ESCAPE '\'`,
			model.StatusDeleted, now, model.StatusActive, under); err != nil {
			return fmt.Errorf("soft-deleting subtree images: %w", err)
		}
		if _, err := q.Exec(ctx,
			`UPDATE folders SET status = $1, updated_at = $2 WHERE status = $3 AND (id = $4 OR path LIKE $5 ESCAPE '\')`,
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

func (s *PostgresStore) RenameSubtree(ctx context.Context, tx pictor.Tx, oldPath, newPath string) error {
	return s.inTx(ctx, tx, func(q querier) error {
		now := time.Now()
		cut := utf8.RuneCountInString(oldPath) + 1
		under := underPattern(oldPath)

		if _, err := q.Exec(ctx,
			"UPDATE folders SET path = $1, updated_at = $2 WHERE path = $3",
			newPath, now, oldPath); err != nil {
			return fmt.Errorf("renaming folder record: %w", err)
		}
		if _, err := q.Exec(ctx,
			`UPDATE folders SET path = $1 || substr(path, $2), updated_at = $3 WHERE path LIKE $4 ESCAPE '\'`,
			newPath, cut, now, under); err != nil {
			return fmt.Errorf("renaming descendant folder records: %w", err)
		}
		if _, err := q.Exec(ctx,
			`UPDATE images SET src = $1 || substr(src, $2), updated_at = $3 WHERE src LIKE $4 ESCAPE '\'`,
			newPath, cut, now, under); err != nil {
			return fmt.Errorf("renaming descendant image records: %w", err)
		}
		return nil
	})
}

// Image operations

func (s *PostgresStore) GetImageBySrc(ctx context.Context, tx pictor.Tx, src string) (*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, "SELECT "+imageColumns+" FROM images WHERE src = $1", src)
	return scanPgImage(row, src)
}

func (s *PostgresStore) GetImageByID(ctx context.Context, tx pictor.Tx, id string) (*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, "SELECT "+imageColumns+" FROM images WHERE id = $1", id)
	return scanPgImage(row, id)
}

func (s *PostgresStore) GetOrCreateImage(ctx context.Context, tx pictor.Tx, src, folderID string, onCreate func(*model.Image) error) (*model.Image, bool, error) {
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

	tag, err := q.Exec(ctx,
		`INSERT INTO images (id, src, folder_id, status, width, height, title, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (src) DO NOTHING`,
		candidate.ID, candidate.Src, candidate.FolderID, candidate.Status,
		candidate.Width, candidate.Height, candidate.Title, candidate.Description,
		candidate.CreatedAt, candidate.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting image %s: %w", src, err)
	}
	if tag.RowsAffected() == 1 {
		return candidate, true, nil
	}

	winner, err := s.GetImageBySrc(ctx, tx, src)
	if err != nil {
		return nil, false, fmt.Errorf("re-reading image after conflict: %w", err)
	}
	return winner, false, nil
}

func (s *PostgresStore) SaveImage(ctx context.Context, tx pictor.Tx, image *model.Image) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE images SET src = $1, folder_id = $2, status = $3, width = $4, height = $5,
		 title = $6, description = $7, updated_at = $8 WHERE id = $9`,
		image.Src, image.FolderID, image.Status, image.Width, image.Height,
		image.Title, image.Description, image.UpdatedAt, image.ID)
	if err != nil {
		return fmt.Errorf("updating image %s: %w", image.Src, err)
	}
	if tag.RowsAffected() == 0 {
		return pictor.E(pictor.CodeNotFound, "image record not found", image.Src)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteImage(ctx context.Context, tx pictor.Tx, id string) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx,
		"UPDATE images SET status = $1, updated_at = $2 WHERE id = $3",
		model.StatusDeleted, time.Now(), id); err != nil {
		return fmt.Errorf("soft-deleting image: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFolderImages(ctx context.Context, tx pictor.Tx, folderID string, includeDeleted bool) ([]*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + imageColumns + " FROM images WHERE folder_id = $1"
	args := []any{folderID}
	if !includeDeleted {
		query += " AND status = $2"
		args = append(args, model.StatusActive)
	}
	query += " ORDER BY src"
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing folder images: %w", err)
	}
	return collectPgImages(rows)
}

func (s *PostgresStore) ListImagesUnder(ctx context.Context, tx pictor.Tx, path string, includeDeleted bool) ([]*model.Image, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + imageColumns + ` FROM images WHERE (src = $1 OR src LIKE $2 ESCAPE '\')`
	args := []any{path, underPattern(path)}
	if !includeDeleted {
		query += " AND status = $3"
		args = append(args, model.StatusActive)
	}
	query += " ORDER BY src"
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing images under %s: %w", path, err)
	}
	return collectPgImages(rows)
}

// History operations

func (s *PostgresStore) AddImageHistory(ctx context.Context, tx pictor.Tx, h *model.ImageHistory) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	row := q.QueryRow(ctx,
		`INSERT INTO image_history (image_id, actor, action, info, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		h.ImageID, h.Actor, h.Action, h.Info, h.CreatedAt)
	if err := row.Scan(&h.ID); err != nil {
		return fmt.Errorf("inserting history row: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListImageHistory(ctx context.Context, tx pictor.Tx, imageID string, limit int) ([]*model.ImageHistory, error) {
	q, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, image_id, actor, action, info, created_at FROM image_history
	          WHERE image_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{imageID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing image history: %w", err)
	}
	defer rows.Close()

	var out []*model.ImageHistory
	for rows.Next() {
		var h model.ImageHistory
		var actor *string
		if err := rows.Scan(&h.ID, &h.ImageID, &actor, &h.Action, &h.Info, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		h.Actor = actor
		out = append(out, &h)
	}
	return out, rows.Err()
}

// Purge operations

func (s *PostgresStore) PurgeDeletedUnder(ctx context.Context, tx pictor.Tx, path string) (int64, error) {
	var purged int64
	err := s.inTx(ctx, tx, func(q querier) error {
		under := underPattern(path)
		tag, err := q.Exec(ctx,
			`DELETE FROM images WHERE status = $1 AND (src = $2 OR src LIKE $3 ESCAPE '\')`,
			model.StatusDeleted, path, under)
		if err != nil {
			return fmt.Errorf("purging deleted images: %w", err)
		}
		purged += tag.RowsAffected()

		tag, err = q.Exec(ctx,
			`DELETE FROM folders WHERE status = $1 AND (path = $2 OR path LIKE $3 ESCAPE '\')`,
			model.StatusDeleted, path, under)
		if err != nil {
			return fmt.Errorf("purging deleted folders: %w", err)
		}
		purged += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func (s *PostgresStore) PurgeDeletedImageAt(ctx context.Context, tx pictor.Tx, src string) error {
	q, err := s.conn(tx)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx,
		"DELETE FROM images WHERE src = $1 AND status = $2", src, model.StatusDeleted); err != nil {
		return fmt.Errorf("purging deleted image at %s: %w", src, err)
	}
	return nil
}

func (s *PostgresStore) PurgeDeletedFolderAt(ctx context.Context, tx pictor.Tx, path string) error {
	_, err := s.PurgeDeletedUnder(ctx, tx, path)
	return err
}

// Scan helpers

func scanPgFolder(row pgx.Row, ref string) (*model.Folder, error) {
	var f model.Folder
	var parent *string
	err := row.Scan(&f.ID, &f.Path, &parent, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pictor.E(pictor.CodeNotFound, "folder record not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning folder row: %w", err)
	}
	f.ParentID = parent
	return &f, nil
}

func scanPgImage(row pgx.Row, ref string) (*model.Image, error) {
	var img model.Image
	var width, height *int
	err := row.Scan(&img.ID, &img.Src, &img.FolderID, &img.Status, &width, &height,
		&img.Title, &img.Description, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pictor.E(pictor.CodeNotFound, "image record not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning image row: %w", err)
	}
	img.Width = width
	img.Height = height
	return &img, nil
}

func collectPgImages(rows pgx.Rows) ([]*model.Image, error) {
	defer rows.Close()
	var out []*model.Image
	for rows.Next() {
		img, err := scanPgImage(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
