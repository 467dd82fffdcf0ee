package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/effectql/internal/effect"
	"github.com/jamesprial/effectql/internal/graphql"
	"github.com/jamesprial/effectql/internal/safety"
)

const (
	ToolGraphQLQuery  = "graphql_query"
	ToolGraphQLMutate = "graphql_mutate"
)

// ToolOption configures the GraphQL tools.
type ToolOption func(*toolOptions)

type toolOptions struct {
	filter  *safety.Filter
	confirm *safety.Confirmations
}

// WithFilter restricts the operations the tools will run by name.
func WithFilter(f *safety.Filter) ToolOption {
	return func(o *toolOptions) { o.filter = f }
}

// WithConfirmations makes graphql_mutate require a confirmation token
// issued for the exact document and variables before it runs.
func WithConfirmations(c *safety.Confirmations) ToolOption {
	return func(o *toolOptions) { o.confirm = c }
}

// GraphQLTools returns the graphql_query and graphql_mutate registrations.
// Each call runs as a single-shot effect against client.
func GraphQLTools(client graphql.Client, logger *slog.Logger, opts ...ToolOption) []Registration {
	if logger == nil {
		logger = slog.Default()
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	return []Registration{
		operationTool(client, logger, o, ToolGraphQLQuery, graphql.KindQuery,
			"Execute a GraphQL query. Results may be served from the client's document cache."),
		operationTool(client, logger, o, ToolGraphQLMutate, graphql.KindMutation,
			"Execute a GraphQL mutation. A successful mutation invalidates cached queries that share a type with its result."),
	}
}

func operationTool(client graphql.Client, logger *slog.Logger, o toolOptions, name string, kind graphql.OperationKind, desc string) Registration {
	confirm := o.confirm
	if kind != graphql.KindMutation {
		confirm = nil
	}

	params := []mcp.ToolOption{
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("The GraphQL %s document. It must contain exactly one operation.", kind)),
		),
		mcp.WithString("variables",
			mcp.Description("Optional JSON object string of variables."),
		),
	}
	if confirm != nil {
		desc += " Requires confirmation."
		params = append(params, mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call with the same document and variables."),
		))
	}
	tool := mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(desc)}, params...)...)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, err := graphql.ParseDocument(req.GetString("query", ""))
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		if doc.Kind != kind {
			return ErrorResult(fmt.Sprintf("%s expects a %s, got a %s", name, kind, doc.Kind)), nil
		}

		if !o.filter.Allows(doc.Name) {
			logger.WarnContext(ctx, "operation denied", "tool", name, "operation", doc.Name)
			return ErrorResult(fmt.Sprintf("operation %q is not allowed", displayName(doc))), nil
		}

		var vars map[string]any
		if s := req.GetString("variables", ""); s != "" {
			if err := json.Unmarshal([]byte(s), &vars); err != nil {
				return ErrorResult(fmt.Sprintf("parse variables JSON: %v", err)), nil
			}
		}

		if confirm != nil {
			fp := fingerprint(doc, vars)
			if !confirm.Confirm(req.GetString("confirmation_token", ""), fp) {
				return ConfirmPrompt(confirm, name, doc, fp), nil
			}
		}

		var eff *effect.Effect[json.RawMessage]
		if kind == graphql.KindMutation {
			eff = effect.Mutation[json.RawMessage](client, doc, vars, effect.WithLogger(logger))
		} else {
			eff = effect.Query[json.RawMessage](client, doc, vars, effect.WithLogger(logger))
		}
		data, err := eff.Run(ctx)
		if err != nil {
			return FailureResult(err), nil
		}

		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return ErrorResult(err.Error()), nil
		}
		return JSONResult(parsed), nil
	}

	return Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

// fingerprint identifies a document and variables pair. Map keys are
// marshalled in sorted order, so equal variables give equal fingerprints.
func fingerprint(doc *graphql.Document, vars map[string]any) string {
	b, _ := json.Marshal(vars)
	return doc.Query + "\x00" + string(b)
}

func displayName(doc *graphql.Document) string {
	if doc.Name == "" {
		return safety.AnonymousName
	}
	return doc.Name
}
