//go:build integration

package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/log"
	"github.com/shiplog/shiplog/internal/testutil"
)

type seededCatalog struct {
	apiProduct  uuid.UUID
	cliProduct  uuid.UUID
	published   uuid.UUID
	draft       uuid.UUID
	searchMatch uuid.UUID
}

func seedCatalog(t *testing.T, container *testutil.TestDBContainer) seededCatalog {
	t.Helper()
	ctx := context.Background()

	var seeded seededCatalog
	insertProduct := func(slug, name string) uuid.UUID {
		var id uuid.UUID
		err := container.Pool.QueryRow(ctx,
			`INSERT INTO products (slug, name, description) VALUES ($1, $2, $3) RETURNING id`,
			slug, name, name+" product").Scan(&id)
		if err != nil {
			t.Fatalf("insert product %s: %v", slug, err)
		}
		return id
	}
	seeded.apiProduct = insertProduct("api", "API")
	seeded.cliProduct = insertProduct("cli", "CLI")

	insertEntry := func(product uuid.UUID, title, body, status, notes string, published *time.Time) uuid.UUID {
		var id uuid.UUID
		err := container.Pool.QueryRow(ctx,
			`INSERT INTO changelog_entries (product_id, title, body, status, internal_notes, published_at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			product, title, body, status, notes, published).Scan(&id)
		if err != nil {
			t.Fatalf("insert entry %s: %v", title, err)
		}
		return id
	}

	now := time.Now()
	earlier := now.Add(-24 * time.Hour)
	seeded.published = insertEntry(seeded.apiProduct,
		"Rate limiting improvements", "Token buckets are now per key.",
		StatusPublished, "rollout was bumpy", &now)
	seeded.searchMatch = insertEntry(seeded.apiProduct,
		"Webhook retries", "Failed webhooks now retry with backoff.",
		StatusPublished, "", &earlier)
	seeded.draft = insertEntry(seeded.cliProduct,
		"New login flow", "Device code login lands next week.",
		StatusDraft, "waiting on security review", nil)

	return seeded
}

func TestCatalogStoreIntegration(t *testing.T) {
	container, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(container.Pool, log.NewNop())
	seeded := seedCatalog(t, container)

	t.Run("list products ordered by name", func(t *testing.T) {
		products, err := store.ListProducts(ctx)
		if err != nil {
			t.Fatalf("ListProducts: %v", err)
		}
		if len(products) != 2 {
			t.Fatalf("expected 2 products, got %d", len(products))
		}
		if products[0].Slug != "api" || products[1].Slug != "cli" {
			t.Errorf("unexpected order: %s, %s", products[0].Slug, products[1].Slug)
		}
	})

	t.Run("public search sees only published", func(t *testing.T) {
		results, total, err := store.SearchEntries(ctx, SearchParams{}, TierPublic)
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if total != 2 || len(results) != 2 {
			t.Fatalf("total = %d, results = %d, want 2/2", total, len(results))
		}
		for _, r := range results {
			if r.Status != StatusPublished {
				t.Errorf("draft leaked to public search: %+v", r)
			}
		}
		// Newest published first.
		if results[0].ID != seeded.published {
			t.Error("results not ordered by published_at desc")
		}
	})

	t.Run("public search ignores draft status filter", func(t *testing.T) {
		_, total, err := store.SearchEntries(ctx, SearchParams{Status: StatusDraft}, TierPublic)
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if total != 2 {
			t.Errorf("public draft filter should be ignored, total = %d", total)
		}
	})

	t.Run("admin search sees drafts", func(t *testing.T) {
		results, total, err := store.SearchEntries(ctx, SearchParams{Status: StatusDraft}, TierAdmin)
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if total != 1 || len(results) != 1 || results[0].ID != seeded.draft {
			t.Errorf("expected the draft entry, got total=%d %+v", total, results)
		}
	})

	t.Run("full text query", func(t *testing.T) {
		results, total, err := store.SearchEntries(ctx, SearchParams{Query: "webhook retry"}, TierPublic)
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if total != 1 || len(results) != 1 || results[0].ID != seeded.searchMatch {
			t.Errorf("expected the webhook entry, got total=%d %+v", total, results)
		}
	})

	t.Run("product filter", func(t *testing.T) {
		_, total, err := store.SearchEntries(ctx, SearchParams{ProductSlug: "cli"}, TierPublic)
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if total != 0 {
			t.Errorf("cli has only a draft, public total = %d", total)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		results, total, err := store.SearchEntries(ctx, SearchParams{Page: 2, PerPage: 1}, TierPublic)
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if total != 2 || len(results) != 1 {
			t.Errorf("page 2 of 2: total=%d results=%d", total, len(results))
		}
	})

	t.Run("entry detail strips internal notes for public", func(t *testing.T) {
		entry, err := store.EntryDetail(ctx, seeded.published, TierPublic)
		if err != nil {
			t.Fatalf("EntryDetail: %v", err)
		}
		if entry.InternalNotes != "" {
			t.Error("internal notes leaked to public tier")
		}

		admin, err := store.EntryDetail(ctx, seeded.published, TierAdmin)
		if err != nil {
			t.Fatalf("EntryDetail admin: %v", err)
		}
		if admin.InternalNotes != "rollout was bumpy" {
			t.Errorf("admin notes = %q", admin.InternalNotes)
		}
	})

	t.Run("draft detail hidden from public", func(t *testing.T) {
		if _, err := store.EntryDetail(ctx, seeded.draft, TierPublic); !errors.Is(err, ErrNotFound) {
			t.Errorf("draft visible to public: %v", err)
		}
		if _, err := store.EntryDetail(ctx, seeded.draft, TierAdmin); err != nil {
			t.Errorf("draft hidden from admin: %v", err)
		}
	})

	t.Run("missing entry", func(t *testing.T) {
		if _, err := store.EntryDetail(ctx, uuid.New(), TierAdmin); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}
