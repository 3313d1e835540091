package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads the catalog from PostgreSQL. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// ListProducts returns all products ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, slug, name, description, created_at
		 FROM products
		 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// SearchEntries searches changelog entries with pagination. Public
// callers only see published entries regardless of the requested
// status filter. Returns the page of summaries and the total match count.
func (s *Store) SearchEntries(ctx context.Context, params SearchParams, tier Tier) ([]*EntrySummary, int64, error) {
	params.normalize()

	where := "TRUE"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if tier != TierAdmin {
		where += " AND e.status = " + arg(StatusPublished)
	} else if params.Status != "" {
		where += " AND e.status = " + arg(params.Status)
	}
	if params.ProductSlug != "" {
		where += " AND p.slug = " + arg(params.ProductSlug)
	}
	if params.Query != "" {
		where += " AND to_tsvector('english', e.title || ' ' || e.body) @@ plainto_tsquery('english', " + arg(params.Query) + ")"
	}

	var total int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM changelog_entries e
		 JOIN products p ON p.id = e.product_id
		 WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	offset := (params.Page - 1) * params.PerPage
	query := `SELECT e.id, p.slug, e.title, e.body, e.status, e.published_at
		 FROM changelog_entries e
		 JOIN products p ON p.id = e.product_id
		 WHERE ` + where + `
		 ORDER BY e.published_at DESC NULLS LAST, e.created_at DESC
		 LIMIT ` + arg(params.PerPage) + ` OFFSET ` + arg(offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	var results []*EntrySummary
	for rows.Next() {
		var es EntrySummary
		var body string
		if err := rows.Scan(&es.ID, &es.ProductSlug, &es.Title, &body, &es.Status, &es.PublishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		es.Summary = Summarize(body)
		results = append(results, &es)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search entries: %w", err)
	}

	s.logger.Debug("searched entries",
		"query", params.Query, "tier", tier, "total", total, "page", params.Page)
	return results, total, nil
}

// EntryDetail fetches one entry. Public callers get ErrNotFound for
// drafts, and internal notes are stripped from their results.
func (s *Store) EntryDetail(ctx context.Context, id uuid.UUID, tier Tier) (*Entry, error) {
	var e Entry
	err := s.db.QueryRow(ctx,
		`SELECT e.id, e.product_id, p.slug, e.title, e.body, e.status, e.internal_notes, e.published_at, e.created_at
		 FROM changelog_entries e
		 JOIN products p ON p.id = e.product_id
		 WHERE e.id = $1`, id,
	).Scan(&e.ID, &e.ProductID, &e.ProductSlug, &e.Title, &e.Body, &e.Status, &e.InternalNotes, &e.PublishedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}

	if tier != TierAdmin {
		if e.Status != StatusPublished {
			return nil, ErrNotFound
		}
		e.InternalNotes = ""
	}
	return &e, nil
}
