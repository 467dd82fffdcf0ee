package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jamesprial/effectql/internal/config"
)

const (
	defaultTimeout = 30 * time.Second
	acceptHeader   = "application/graphql-response+json, application/json, multipart/mixed"
)

// HTTPClient is the Client implementation that sends GraphQL requests over
// HTTP. Settled query results are kept in an in-memory document cache and
// successful mutations invalidate the cached queries they touch.
type HTTPClient struct {
	httpClient *http.Client
	graphqlURL string
	apiKey     string
	headers    map[string]string
	policy     RequestPolicy
	cache      *documentCache
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithRequestPolicy sets the default request policy for queries.
func WithRequestPolicy(p RequestPolicy) Option {
	return func(c *HTTPClient) {
		if p.Valid() {
			c.policy = p
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client. The configured
// timeout is not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient constructs an HTTPClient from the provided GraphQLConfig.
// It returns an error if cfg.URL is empty. When cfg.Timeout is zero or
// negative, a default timeout of 30 seconds is used. The API key is
// optional; when set it is sent in the x-api-key header.
func NewHTTPClient(cfg config.GraphQLConfig, opts ...Option) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("graphql: URL is required")
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		graphqlURL: normalizeURL(cfg.URL),
		apiKey:     cfg.APIKey,
		headers:    cfg.Headers,
		policy:     CacheFirst,
		cache:      newDocumentCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// normalizeURL trims any trailing slashes from rawURL.
func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}

// graphqlRequest is the JSON body shape for a GraphQL HTTP request.
type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

func (c *HTTPClient) operation(doc *Document, variables map[string]any) Operation {
	return Operation{
		Key:       operationKey(doc, variables),
		Kind:      doc.Kind,
		Name:      doc.Name,
		Document:  doc,
		Variables: variables,
		Policy:    c.policy,
	}
}

// Query executes a query document. Under cache-first a cached result is
// returned without a request; otherwise the query is fetched and the
// settled result is cached.
func (c *HTTPClient) Query(ctx context.Context, doc *Document, variables map[string]any) OperationResult {
	op := c.operation(doc, variables)
	if op.Policy == CacheFirst {
		if cached, ok := c.cache.get(op.Key); ok {
			cached.Operation = op
			return cached
		}
	}
	last, _ := c.fetch(ctx, op, func(OperationResult) bool { return true })
	return last
}

// Mutation executes a mutation document. A successful mutation invalidates
// every cached query sharing a __typename with its data.
func (c *HTTPClient) Mutation(ctx context.Context, doc *Document, variables map[string]any) OperationResult {
	op := c.operation(doc, variables)
	last, _ := c.fetch(ctx, op, func(OperationResult) bool { return true })
	return last
}

// Subscribe returns a live source of results for doc.
//
// Mutations and subscriptions emit their payloads and complete. Queries
// emit according to the request policy and then stay open: when a mutation
// invalidates the cached result, the last result is re-emitted with Stale
// set and the query is fetched again. Network-only queries complete after
// their final payload.
func (c *HTTPClient) Subscribe(ctx context.Context, doc *Document, variables map[string]any) <-chan OperationResult {
	op := c.operation(doc, variables)
	out := make(chan OperationResult)
	go c.run(ctx, op, out)
	return out
}

func (c *HTTPClient) run(ctx context.Context, op Operation, out chan<- OperationResult) {
	defer close(out)

	send := func(r OperationResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if op.Kind != KindQuery {
		c.fetch(ctx, op, send)
		return
	}

	invalidated, release := c.cache.watch(op.Key)
	defer release()

	var last OperationResult
	needFetch := true
	if op.Policy != NetworkOnly {
		if cached, ok := c.cache.get(op.Key); ok {
			cached.Operation = op
			cached.Stale = op.Policy == CacheAndNetwork
			if !send(cached) {
				return
			}
			last = cached
			needFetch = op.Policy == CacheAndNetwork
		}
	}
	if needFetch {
		res, ok := c.fetch(ctx, op, send)
		if !ok {
			return
		}
		last = res
	}
	if op.Policy == NetworkOnly {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-invalidated:
			if last.Data != nil {
				stale := last
				stale.Stale = true
				if !send(stale) {
					return
				}
			}
			res, ok := c.fetch(ctx, op, send)
			if !ok {
				return
			}
			last = res
		}
	}
}

// fetch executes op over the network and passes every payload to send. A
// settled result is applied to the cache before it is sent. fetch returns
// the last payload and whether every send succeeded.
func (c *HTTPClient) fetch(ctx context.Context, op Operation, send func(OperationResult) bool) (OperationResult, bool) {
	var last OperationResult
	ok := true
	c.execute(ctx, op, func(r OperationResult) bool {
		last = r
		if r.Error == nil && r.Data != nil && !r.HasNext {
			switch op.Kind {
			case KindQuery:
				c.cache.put(op.Key, r)
			case KindMutation:
				c.cache.invalidate(r.Data)
			}
		}
		ok = send(r)
		return ok
	})
	return last, ok
}

// execute sends op to the configured endpoint and calls emit once per
// payload. Transport failures never escape as Go errors: they are reported
// as the NetworkError of an emitted result.
func (c *HTTPClient) execute(ctx context.Context, op Operation, emit func(OperationResult) bool) {
	fail := func(err error, resp *http.Response) {
		emit(OperationResult{Operation: op, Error: networkError(err, resp)})
	}

	if op.Kind == KindSubscription {
		fail(ErrSubscriptionUnsupported, nil)
		return
	}

	bodyBytes, err := json.Marshal(graphqlRequest{
		Query:         op.Document.Query,
		OperationName: op.Name,
		Variables:     op.Variables,
	})
	if err != nil {
		fail(fmt.Errorf("graphql: marshal request: %w", err), nil)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(bodyBytes))
	if err != nil {
		fail(fmt.Errorf("graphql: create request: %w", err), nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		fail(fmt.Errorf("graphql: request failed: %w", err), nil)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	mediaType, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ok && mediaType == "multipart/mixed" {
		readMultipart(op, resp, params["boundary"], emit)
		return
	}

	// A body carrying data or errors is a GraphQL result whatever the status.
	var p payload
	decodeErr := json.NewDecoder(resp.Body).Decode(&p)
	if decodeErr == nil && (normalizeData(p.Data) != nil || len(p.Errors) > 0) {
		emit(p.result(op, resp))
		return
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		fail(fmt.Errorf("graphql: authentication failed (HTTP 401)"), resp)
	case !ok:
		fail(fmt.Errorf("graphql: unexpected HTTP status %d", resp.StatusCode), resp)
	case decodeErr != nil:
		fail(fmt.Errorf("graphql: decode response: %w", decodeErr), resp)
	default:
		emit(p.result(op, resp))
	}
}
