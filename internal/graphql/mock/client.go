// Package mock provides test doubles for graphql interfaces using function
// fields.
package mock

import (
	"context"

	"github.com/jamesprial/effectql/internal/graphql"
)

var _ graphql.Client = (*Client)(nil)

// Client is a test double for graphql.Client.
// Set the function fields for the methods you need.
type Client struct {
	QueryFn     func(ctx context.Context, doc *graphql.Document, variables map[string]any) graphql.OperationResult
	MutationFn  func(ctx context.Context, doc *graphql.Document, variables map[string]any) graphql.OperationResult
	SubscribeFn func(ctx context.Context, doc *graphql.Document, variables map[string]any) <-chan graphql.OperationResult
}

// Query delegates to QueryFn.
func (c *Client) Query(ctx context.Context, doc *graphql.Document, variables map[string]any) graphql.OperationResult {
	return c.QueryFn(ctx, doc, variables)
}

// Mutation delegates to MutationFn.
func (c *Client) Mutation(ctx context.Context, doc *graphql.Document, variables map[string]any) graphql.OperationResult {
	return c.MutationFn(ctx, doc, variables)
}

// Subscribe delegates to SubscribeFn.
func (c *Client) Subscribe(ctx context.Context, doc *graphql.Document, variables map[string]any) <-chan graphql.OperationResult {
	return c.SubscribeFn(ctx, doc, variables)
}

// Source returns a SubscribeFn that emits results in order and then closes,
// stopping early when ctx is done.
func Source(results ...graphql.OperationResult) func(context.Context, *graphql.Document, map[string]any) <-chan graphql.OperationResult {
	return func(ctx context.Context, _ *graphql.Document, _ map[string]any) <-chan graphql.OperationResult {
		out := make(chan graphql.OperationResult)
		go func() {
			defer close(out)
			for _, r := range results {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}
