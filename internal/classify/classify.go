// Package classify turns the combined error of a GraphQL operation result into
// exactly one of three failure kinds, or yields the result's data.
//
// Classification is ordered and the first match wins:
//
//  1. a network error, even when GraphQL errors are also present
//  2. one or more GraphQL errors
//  3. any other combined error
//  4. a result with neither data nor error
//
// Everything else is a success carrying the data unchanged.
package classify

import (
	"encoding/json"
	"fmt"

	"github.com/jamesprial/effectql/internal/graphql"
)

const (
	// NetworkFallbackMessage is used when the network error has no message.
	NetworkFallbackMessage = "Network error occurred"
	// NoDataMessage is the message of a result with neither data nor error.
	NoDataMessage = "no data and no error"
)

// Classify returns res.Data on success, or the classified failure.
func Classify(res graphql.OperationResult) (json.RawMessage, Error) {
	if combined := res.Error; combined != nil {
		if combined.NetworkError != nil {
			msg := combined.NetworkError.Error()
			if msg == "" {
				msg = NetworkFallbackMessage
			}
			return nil, &NetworkFailure{
				Message:  msg,
				Cause:    combined.NetworkError,
				Response: combined.Response,
			}
		}

		if len(combined.GraphQLErrors) > 0 {
			return nil, &ProtocolFailure{
				Message: combined.Error(),
				Errors:  combined.GraphQLErrors,
			}
		}

		return nil, &DataAbsentFailure{
			Message:  combined.Error(),
			Combined: combined,
		}
	}

	if res.Data == nil {
		return nil, &DataAbsentFailure{
			Message:  NoDataMessage,
			Combined: &graphql.CombinedError{},
		}
	}

	return res.Data, nil
}

// Decode classifies res and decodes a successful payload into T. A payload
// that does not decode into T is reported as a DataAbsentFailure carrying
// the decode error.
func Decode[T any](res graphql.OperationResult) (T, Error) {
	var zero T
	data, cerr := Classify(res)
	if cerr != nil {
		return zero, cerr
	}

	if raw, ok := any(&zero).(*json.RawMessage); ok {
		*raw = data
		return zero, nil
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, &DataAbsentFailure{
			Message:  fmt.Sprintf("decode data: %v", err),
			Combined: res.Error,
			Cause:    err,
		}
	}
	return out, nil
}
