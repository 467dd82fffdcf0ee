package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/graphql"
	"github.com/jamesprial/effectql/internal/safety"
)

// JSONResult marshals v to indented JSON.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult reports a tool-level error such as bad arguments.
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError("error: " + msg)
}

// FailureResult reports a failed operation. Classified failures are
// rendered as their JSON form so callers can branch on "kind".
func FailureResult(err error) *mcp.CallToolResult {
	cerr, ok := classify.As(err)
	if !ok {
		return ErrorResult(err.Error())
	}
	data, mErr := json.MarshalIndent(cerr, "", "  ")
	if mErr != nil {
		return ErrorResult(cerr.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// ConfirmPrompt issues a confirmation token for fp and asks the caller to
// repeat the call with it.
func ConfirmPrompt(confirm *safety.Confirmations, toolName string, doc *graphql.Document, fp string) *mcp.CallToolResult {
	token := confirm.Request(fp)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Confirmation required for %s %q.\n\nTo proceed, call %s again with the same query and variables and confirmation_token=%q.",
		doc.Kind, displayName(doc), toolName, token,
	))
}
