package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound     = errors.New("link not found")
	ErrCodeConflict = errors.New("short code already exists")
	ErrForbidden    = errors.New("link is not owned by caller")
)

const uniqueViolation = "23505"

// LinkStore is the persistence contract for short links. Implementations
// must enforce code uniqueness and increment clicks atomically in storage.
type LinkStore interface {
	Create(ctx context.Context, link *model.ShortLink) error
	GetByCode(ctx context.Context, code string) (*model.ShortLink, error)
	Exists(ctx context.Context, code string) (bool, error)
	IncrementClicks(ctx context.Context, code string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*model.ShortLink, error)
	Delete(ctx context.Context, code, ownerID string) error
}

// LinkRepository handles database operations for links
type LinkRepository struct {
	db *pgxpool.Pool
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: db}
}

func startSpan(ctx context.Context, name, operation, code string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", "links"),
			attribute.String("short_code", code),
		),
	)
}

// Create inserts a new link. A taken code surfaces as ErrCodeConflict,
// including codes of soft-deleted links.
func (r *LinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	ctx, span := startSpan(ctx, "db.insert", "INSERT", link.Code)
	defer span.End()

	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	query := `
		INSERT INTO links (id, short_code, target_url, owner_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, click_count
	`
	err := r.db.QueryRow(ctx, query,
		link.ID,
		link.Code,
		link.TargetURL,
		link.OwnerID,
		link.ExpiresAt,
	).Scan(&link.CreatedAt, &link.ClickCount)

	if err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCodeConflict
		}
		return err
	}
	return nil
}

// GetByCode returns the live link for code whether or not it has expired.
func (r *LinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	ctx, span := startSpan(ctx, "db.select", "SELECT", code)
	defer span.End()

	query := `
		SELECT id, short_code, target_url, owner_id, created_at, expires_at, click_count
		FROM links
		WHERE short_code = $1 AND deleted_at IS NULL`

	link, err := scanLink(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return link, nil
}

// Exists reports whether code was ever issued, deleted links included.
func (r *LinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	ctx, span := startSpan(ctx, "db.exists", "SELECT", code)
	defer span.End()

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM links WHERE short_code = $1)`, code).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return exists, nil
}

// IncrementClicks adds exactly one click in a single UPDATE so concurrent
// redirects never lose an increment.
func (r *LinkRepository) IncrementClicks(ctx context.Context, code string) error {
	ctx, span := startSpan(ctx, "db.increment_clicks", "UPDATE", code)
	defer span.End()

	query := `
		UPDATE links SET click_count = click_count + 1
		WHERE short_code = $1 AND deleted_at IS NULL`
	result, err := r.db.Exec(ctx, query, code)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's live links, newest first.
func (r *LinkRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.ShortLink, error) {
	ctx, span := tracer.Start(ctx, "db.select_by_owner",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
		),
	)
	defer span.End()

	query := `
		SELECT id, short_code, target_url, owner_id, created_at, expires_at, click_count
		FROM links
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, short_code`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	links := make([]*model.ShortLink, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return links, nil
}

// Delete soft-deletes the link when ownerID owns it. The row stays so its
// code is never issued again. Anonymous links are never deletable here.
func (r *LinkRepository) Delete(ctx context.Context, code, ownerID string) error {
	ctx, span := startSpan(ctx, "db.delete", "UPDATE", code)
	defer span.End()

	result, err := r.db.Exec(ctx, `
		UPDATE links SET deleted_at = NOW()
		WHERE short_code = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		code, ownerID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: tell "no such link" apart from "someone else's link".
	var live bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE short_code = $1 AND deleted_at IS NULL)`,
		code).Scan(&live)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !live {
		return ErrNotFound
	}
	return ErrForbidden
}

func scanLink(row pgx.Row) (*model.ShortLink, error) {
	var link model.ShortLink
	err := row.Scan(
		&link.ID,
		&link.Code,
		&link.TargetURL,
		&link.OwnerID,
		&link.CreatedAt,
		&link.ExpiresAt,
		&link.ClickCount,
	)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

var _ LinkStore = (*LinkRepository)(nil)
