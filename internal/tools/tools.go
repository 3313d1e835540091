// Package tools provides the assistant's tool registry and executor.
//
// Tools read the changelog catalog. Every execution returns a JSON string
// for the model to consume; failures are returned as structured JSON error
// payloads rather than Go errors, so the model can observe the failure and
// correct itself on the next round.
package tools

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// ToolError defines a structured error format for model consumption.
// It allows tools to return specific error types and messages that the
// model can understand and correct.
type ToolError struct {
	ErrorType string `json:"error_type"` // e.g., "UnknownTool", "InvalidArguments", "NotFound"
	Message   string `json:"message"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return "<nil ToolError>"
	}
	if e.ErrorType == "" && e.Message == "" {
		return "<empty ToolError>"
	}
	if e.ErrorType == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.ErrorType
	}
	return e.ErrorType + ": " + e.Message
}

// Error type constants.
const (
	ErrTypeUnknownTool      = "UnknownTool"
	ErrTypeInvalidArguments = "InvalidArguments"
	ErrTypeNotFound         = "NotFound"
	ErrTypeExecutionFailed  = "ExecutionFailed"
)

// Tool names.
const (
	ToolListProducts  = "list_products"
	ToolSearchEntries = "search_entries"
	ToolGetEntry      = "get_entry"
)

// Definition describes one tool to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ListProductsInput is the (empty) argument set for list_products.
type ListProductsInput struct{}

// SearchEntriesInput filters a changelog entry search.
type SearchEntriesInput struct {
	Query   string `json:"query,omitempty" jsonschema_description:"Free-text search over entry titles and bodies"`
	Product string `json:"product,omitempty" jsonschema_description:"Restrict results to one product slug"`
	Status  string `json:"status,omitempty" jsonschema_description:"Filter by entry status: draft or published (admin only)"`
	Page    int32  `json:"page,omitempty" jsonschema_description:"Result page, starting at 1"`
	PerPage int32  `json:"perPage,omitempty" jsonschema_description:"Results per page (max 50)"`
}

// GetEntryInput identifies one changelog entry.
type GetEntryInput struct {
	ID string `json:"id" jsonschema_description:"The changelog entry UUID"`
}
