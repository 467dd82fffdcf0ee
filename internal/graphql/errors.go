package graphql

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Sentinel errors returned by the transport.
var (
	// ErrNoOperation is returned when a document defines no operation.
	ErrNoOperation = errors.New("graphql: document has no operation")

	// ErrMultipleOperations is returned when a document defines more than one
	// operation.
	ErrMultipleOperations = errors.New("graphql: document must define exactly one operation")

	// ErrSubscriptionUnsupported is reported as the network error of
	// subscription operations, which the HTTP transport cannot carry.
	ErrSubscriptionUnsupported = errors.New("graphql: subscriptions are not supported over HTTP")
)

// CombinedError holds the failures of one operation result: at most one
// network-level error and any number of GraphQL errors reported by the
// server.
type CombinedError struct {
	NetworkError  error
	GraphQLErrors gqlerror.List
	// Response is the raw HTTP response, if one was received. Its body has
	// already been consumed.
	Response *http.Response
}

// Error renders one line per failure, prefixed with [Network] or [GraphQL].
func (e *CombinedError) Error() string {
	if e == nil {
		return ""
	}
	var lines []string
	if e.NetworkError != nil {
		lines = append(lines, "[Network] "+e.NetworkError.Error())
	}
	for _, ge := range e.GraphQLErrors {
		if ge == nil {
			continue
		}
		lines = append(lines, "[GraphQL] "+ge.Message)
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes the network error and every GraphQL error to errors.Is and
// errors.As.
func (e *CombinedError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, len(e.GraphQLErrors)+1)
	if e.NetworkError != nil {
		errs = append(errs, e.NetworkError)
	}
	for _, ge := range e.GraphQLErrors {
		if ge != nil {
			errs = append(errs, ge)
		}
	}
	return errs
}

func networkError(err error, resp *http.Response) *CombinedError {
	return &CombinedError{NetworkError: err, Response: resp}
}
