// Package graphql provides the GraphQL transport used by effectql: parsed
// documents, operation results, combined errors and an HTTP client with a
// document cache and live query subscriptions.
package graphql

import (
	"context"
	"encoding/json"
)

// OperationKind is the GraphQL operation type of a document.
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
)

// RequestPolicy controls how a query interacts with the document cache.
type RequestPolicy string

const (
	// CacheFirst serves cached results and only fetches on a cache miss.
	CacheFirst RequestPolicy = "cache-first"
	// CacheAndNetwork serves a cached result marked stale, then fetches.
	CacheAndNetwork RequestPolicy = "cache-and-network"
	// NetworkOnly always fetches and never reads the cache. Subscriptions
	// with this policy complete after the final network result.
	NetworkOnly RequestPolicy = "network-only"
)

// Valid reports whether p is a known request policy.
func (p RequestPolicy) Valid() bool {
	switch p {
	case CacheFirst, CacheAndNetwork, NetworkOnly:
		return true
	}
	return false
}

// Operation is a single execution of a document with a set of variables.
type Operation struct {
	// Key identifies the document and variables pair in the cache.
	Key       uint64
	Kind      OperationKind
	Name      string
	Document  *Document
	Variables map[string]any
	Policy    RequestPolicy
}

// OperationResult is produced by the transport once per request, or once per
// emission for live subscriptions. Data is nil when the payload is absent.
type OperationResult struct {
	Operation Operation
	Data      json.RawMessage
	Error     *CombinedError
	// Stale is true when a newer result is expected to follow.
	Stale bool
	// HasNext is true when more incremental payloads will arrive.
	HasNext bool
}

// Client defines the transport capabilities consumed by the effect, stream
// and binding layers.
type Client interface {
	// Query executes a query and returns its first settled result.
	Query(ctx context.Context, doc *Document, variables map[string]any) OperationResult
	// Mutation executes a mutation and returns its settled result.
	Mutation(ctx context.Context, doc *Document, variables map[string]any) OperationResult
	// Subscribe returns a live source of results for doc. The channel is
	// closed when the source completes or ctx is done.
	Subscribe(ctx context.Context, doc *Document, variables map[string]any) <-chan OperationResult
}

// normalizeData maps an absent or JSON null payload to nil.
func normalizeData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
