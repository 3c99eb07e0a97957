package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/emaihada/yoonha/internal/apperr"
	"github.com/emaihada/yoonha/internal/logging"
	"github.com/emaihada/yoonha/internal/models"
	"github.com/emaihada/yoonha/internal/storage"
	"github.com/emaihada/yoonha/internal/storage/postgres/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// notifyChannel carries the collection name of every committed write so that
// all server instances sharing the database refresh their subscriptions.
const notifyChannel = "homepage_changes"

type PostgresStorage struct {
	pool    *pgxpool.Pool
	changes *storage.Broadcaster
	logger  logging.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(ctx context.Context, dsn string, logger logging.Logger) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Unavailable("ping postgres", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStorage{
		pool:    pool,
		changes: storage.NewBroadcaster(),
		logger:  logger.With("component", "postgres"),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.listen(listenCtx)

	return s, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// wrap turns driver failures into the apperr taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidArgument) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperr.Unavailable(op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperr.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notify(ctx context.Context, tx pgx.Tx, cols ...storage.Collection) error {
	for _, c := range cols {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(c)); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn in a transaction and queues a notification for cols that is
// delivered on commit.
func (s *PostgresStorage) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error, cols ...storage.Collection) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return notify(ctx, tx, cols...)
	})
	return wrap(op, err)
}

func (s *PostgresStorage) CreateGuestbookEntry(ctx context.Context, entry *models.GuestbookEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return s.inTx(ctx, "create guestbook entry", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO guestbook (id, name, content, created_at)
			VALUES ($1, $2, $3, $4)`,
			entry.ID, entry.Name, entry.Content, entry.CreatedAt)
		return err
	}, storage.Guestbook)
}

func (s *PostgresStorage) DeleteGuestbookEntry(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete guestbook entry", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM guestbook WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("guestbook entry", id)
		}
		return nil
	}, storage.Guestbook)
}

func (s *PostgresStorage) ListGuestbook(ctx context.Context) ([]models.GuestbookEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, content, created_at FROM guestbook`)
	if err != nil {
		return nil, wrap("list guestbook", err)
	}
	defer rows.Close()

	var entries []models.GuestbookEntry
	for rows.Next() {
		var e models.GuestbookEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Content, &e.CreatedAt); err != nil {
			return nil, wrap("list guestbook", err)
		}
		entries = append(entries, e)
	}
	return entries, wrap("list guestbook", rows.Err())
}

const contentColumns = `id, category, title, content, link, image_url, created_at, comment_count, is_pinned`

func scanContentItem(row pgx.Row) (models.ContentItem, error) {
	var it models.ContentItem
	err := row.Scan(&it.ID, &it.Category, &it.Title, &it.Content, &it.Link, &it.ImageURL,
		&it.CreatedAt, &it.CommentCount, &it.IsPinned)
	return it, err
}

func (s *PostgresStorage) CreateContentItem(ctx context.Context, item *models.ContentItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	return s.inTx(ctx, "create content item", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO contents (`+contentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, item.Category, item.Title, item.Content, item.Link, item.ImageURL,
			item.CreatedAt, item.CommentCount, item.IsPinned)
		return err
	}, storage.Contents)
}

func (s *PostgresStorage) GetContentItem(ctx context.Context, id string) (*models.ContentItem, error) {
	it, err := scanContentItem(s.pool.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("content item", id)
	}
	if err != nil {
		return nil, wrap("get content item", err)
	}
	return &it, nil
}

func (s *PostgresStorage) UpdateContentItem(ctx context.Context, id string, patch models.ContentItemPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, "update content item", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE contents SET
				title = COALESCE($2, title),
				content = COALESCE($3, content),
				link = COALESCE($4, link),
				image_url = COALESCE($5, image_url)
			WHERE id=$1`,
			id, patch.Title, patch.Content, patch.Link, patch.ImageURL)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("content item", id)
		}
		return nil
	}, storage.Contents)
}

// DeleteContentItem leaves the item's comments in place.
func (s *PostgresStorage) DeleteContentItem(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete content item", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM contents WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("content item", id)
		}
		return nil
	}, storage.Contents)
}

func (s *PostgresStorage) ListContentItems(ctx context.Context, category string) ([]models.ContentItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+contentColumns+` FROM contents WHERE category=$1`, category)
	if err != nil {
		return nil, wrap("list content items", err)
	}
	defer rows.Close()

	var items []models.ContentItem
	for rows.Next() {
		it, err := scanContentItem(rows)
		if err != nil {
			return nil, wrap("list content items", err)
		}
		items = append(items, it)
	}
	return items, wrap("list content items", rows.Err())
}

func (s *PostgresStorage) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	byPost, err := s.ListCommentsByPosts(ctx, []string{postID})
	if err != nil {
		return nil, err
	}
	return byPost[postID], nil
}

func (s *PostgresStorage) ListCommentsByPosts(ctx context.Context, postIDs []string) (map[string][]models.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, post_id, name, content, created_at
		FROM comments
		WHERE post_id = ANY($1)`, postIDs)
	if err != nil {
		return nil, wrap("list comments", err)
	}
	defer rows.Close()

	result := make(map[string][]models.Comment, len(postIDs))
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.Name, &c.Content, &c.CreatedAt); err != nil {
			return nil, wrap("list comments", err)
		}
		result[c.PostID] = append(result[c.PostID], c)
	}
	return result, wrap("list comments", rows.Err())
}

func (s *PostgresStorage) AddCommentWithCount(ctx context.Context, comment *models.Comment) error {
	if err := comment.Validate(); err != nil {
		return err
	}
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	return s.inTx(ctx, "add comment", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE contents SET comment_count = comment_count + 1 WHERE id=$1`, comment.PostID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("content item", comment.PostID)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO comments (id, post_id, name, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			comment.ID, comment.PostID, comment.Name, comment.Content, comment.CreatedAt)
		return err
	}, storage.Comments, storage.Contents)
}

func (s *PostgresStorage) DeleteCommentWithCount(ctx context.Context, commentID, postID string) error {
	return s.inTx(ctx, "delete comment", func(tx pgx.Tx) error {
		var stored string
		err := tx.QueryRow(ctx, `SELECT post_id FROM comments WHERE id=$1 FOR UPDATE`, commentID).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("comment", commentID)
		}
		if err != nil {
			return err
		}
		if postID != "" && postID != stored {
			return apperr.Invalid("comment %q belongs to post %q, not %q", commentID, stored, postID)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE id=$1`, commentID); err != nil {
			return err
		}
		// the parent may already be gone; the orphan is still removed
		_, err = tx.Exec(ctx, `
			UPDATE contents SET comment_count = GREATEST(comment_count - 1, 0)
			WHERE id=$1`, stored)
		return err
	}, storage.Comments, storage.Contents)
}

// TogglePin reads the pinned set outside the write transaction. Two admins
// pinning different items of one category at the same instant can both
// succeed and leave two pins.
func (s *PostgresStorage) TogglePin(ctx context.Context, itemID, category string, currentlyPinned bool) error {
	if currentlyPinned {
		return s.inTx(ctx, "unpin", func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `UPDATE contents SET is_pinned = FALSE WHERE id=$1 AND category=$2`, itemID, category)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pinMiss(ctx, tx, itemID, category)
			}
			return nil
		}, storage.Contents)
	}

	pinned, err := s.pinnedIDs(ctx, category)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "pin", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		if len(pinned) > 0 {
			batch.Queue(`UPDATE contents SET is_pinned = FALSE WHERE id = ANY($1)`, pinned)
		}
		batch.Queue(`UPDATE contents SET is_pinned = TRUE WHERE id=$1 AND category=$2`, itemID, category)

		br := tx.SendBatch(ctx, batch)
		if len(pinned) > 0 {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return err
		}
		if err := br.Close(); err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pinMiss(ctx, tx, itemID, category)
		}
		return nil
	}, storage.Contents)
}

// pinMiss explains why a pin update touched no row.
func pinMiss(ctx context.Context, tx pgx.Tx, itemID, category string) error {
	var stored string
	err := tx.QueryRow(ctx, `SELECT category FROM contents WHERE id=$1`, itemID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("content item", itemID)
	}
	if err != nil {
		return err
	}
	return apperr.Invalid("content item %s is in category %q, not %q", itemID, stored, category)
}

func (s *PostgresStorage) pinnedIDs(ctx context.Context, category string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM contents WHERE category=$1 AND is_pinned`, category)
	if err != nil {
		return nil, wrap("list pinned", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, wrap("list pinned", err)
}

func (s *PostgresStorage) Watch(ctx context.Context) (<-chan storage.Change, error) {
	return s.changes.Watch(ctx), nil
}

func (s *PostgresStorage) Close() error {
	s.cancel()
	<-s.done
	s.changes.Close()
	s.pool.Close()
	return nil
}
