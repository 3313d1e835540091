package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/catalog"
)

// Catalog is the read surface the tools need. Satisfied by *catalog.Store.
type Catalog interface {
	ListProducts(ctx context.Context) ([]*catalog.Product, error)
	SearchEntries(ctx context.Context, params catalog.SearchParams, tier catalog.Tier) ([]*catalog.EntrySummary, int64, error)
	EntryDetail(ctx context.Context, id uuid.UUID, tier catalog.Tier) (*catalog.Entry, error)
}

// Executor dispatches tool calls by name. Safe for concurrent use.
type Executor struct {
	catalog Catalog
	logger  *slog.Logger
	defs    []Definition
}

// NewExecutor creates an Executor over the given catalog.
func NewExecutor(cat Catalog, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	listSchema, err := jsonschema.For[ListProductsInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", ToolListProducts, err)
	}
	searchSchema, err := jsonschema.For[SearchEntriesInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", ToolSearchEntries, err)
	}
	getSchema, err := jsonschema.For[GetEntryInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", ToolGetEntry, err)
	}

	return &Executor{
		catalog: cat,
		logger:  logger,
		defs: []Definition{
			{
				Name:        ToolListProducts,
				Description: "List every product that has a changelog, with slug and description.",
				Parameters:  listSchema,
			},
			{
				Name:        ToolSearchEntries,
				Description: "Search changelog entries by free text, product, and status. Returns paginated summaries.",
				Parameters:  searchSchema,
			},
			{
				Name:        ToolGetEntry,
				Description: "Fetch the full body of one changelog entry by its UUID.",
				Parameters:  getSchema,
			},
		},
	}, nil
}

// Definitions returns the tool definitions advertised to the model.
func (e *Executor) Definitions() []Definition {
	return e.defs
}

// Execute runs the named tool and returns its result as a JSON string.
// It never returns a Go error to the caller: unknown tools, malformed
// arguments, and execution failures all come back as JSON error payloads
// for the model to read.
func (e *Executor) Execute(ctx context.Context, name, argsJSON string, tier catalog.Tier) string {
	result, err := e.dispatch(ctx, name, argsJSON, tier)
	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			// Infrastructure failure: log the detail, hand the model a
			// generic payload without internals.
			e.logger.Error("tool execution failed", "tool", name, "error", err)
			toolErr = &ToolError{ErrorType: ErrTypeExecutionFailed, Message: "the tool failed to execute"}
		} else {
			e.logger.Debug("tool returned error payload", "tool", name, "error_type", toolErr.ErrorType)
		}
		return mustJSON(toolErr)
	}
	return mustJSON(result)
}

func (e *Executor) dispatch(ctx context.Context, name, argsJSON string, tier catalog.Tier) (any, error) {
	switch name {
	case ToolListProducts:
		return e.listProducts(ctx)
	case ToolSearchEntries:
		return e.searchEntries(ctx, argsJSON, tier)
	case ToolGetEntry:
		return e.getEntry(ctx, argsJSON, tier)
	default:
		return nil, &ToolError{
			ErrorType: ErrTypeUnknownTool,
			Message:   fmt.Sprintf("no tool named %q", name),
		}
	}
}

// ListProductsResult wraps the product list.
type ListProductsResult struct {
	Products []*catalog.Product `json:"products"`
}

func (e *Executor) listProducts(ctx context.Context) (any, error) {
	products, err := e.catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []*catalog.Product{}
	}
	return ListProductsResult{Products: products}, nil
}

// SearchEntriesResult is a page of entry summaries.
type SearchEntriesResult struct {
	Results []*catalog.EntrySummary `json:"results"`
	Total   int64                   `json:"total"`
	Page    int32                   `json:"page"`
	PerPage int32                   `json:"perPage"`
}

func (e *Executor) searchEntries(ctx context.Context, argsJSON string, tier catalog.Tier) (any, error) {
	var input SearchEntriesInput
	if err := unmarshalArgs(argsJSON, &input); err != nil {
		return nil, err
	}

	params := catalog.SearchParams{
		Query:       input.Query,
		ProductSlug: input.Product,
		Status:      input.Status,
		Page:        input.Page,
		PerPage:     input.PerPage,
	}
	results, total, err := e.catalog.SearchEntries(ctx, params, tier)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	if results == nil {
		results = []*catalog.EntrySummary{}
	}
	if params.Page < 1 {
		params.Page = 1
	}
	return SearchEntriesResult{Results: results, Total: total, Page: params.Page, PerPage: params.PerPage}, nil
}

func (e *Executor) getEntry(ctx context.Context, argsJSON string, tier catalog.Tier) (any, error) {
	var input GetEntryInput
	if err := unmarshalArgs(argsJSON, &input); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, &ToolError{
			ErrorType: ErrTypeInvalidArguments,
			Message:   fmt.Sprintf("id %q is not a valid UUID", input.ID),
		}
	}

	entry, err := e.catalog.EntryDetail(ctx, id, tier)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &ToolError{
				ErrorType: ErrTypeNotFound,
				Message:   fmt.Sprintf("no entry with id %q", input.ID),
			}
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// unmarshalArgs decodes model-produced argument JSON. An empty string is
// treated as an empty object; models frequently omit arguments entirely.
func unmarshalArgs(argsJSON string, v any) error {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argsJSON), v); err != nil {
		return &ToolError{
			ErrorType: ErrTypeInvalidArguments,
			Message:   fmt.Sprintf("arguments are not valid JSON: %v", err),
		}
	}
	return nil
}

// mustJSON marshals a value the executor built itself; all such values
// are marshalable, so a failure is a bug worth a loud payload.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error_type":%q,"message":"failed to encode tool result"}`, ErrTypeExecutionFailed)
	}
	return string(data)
}
