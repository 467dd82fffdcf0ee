package classify

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/jamesprial/effectql/internal/graphql"
)

// Kind tags a classified failure.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindProtocol
	KindDataAbsent
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkFailure"
	case KindProtocol:
		return "ProtocolFailure"
	case KindDataAbsent:
		return "DataAbsentFailure"
	}
	return "UnknownFailure"
}

// MarshalText renders the kind tag.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Error is a classified failure. It is sealed: the only implementations are
// *NetworkFailure, *ProtocolFailure and *DataAbsentFailure.
type Error interface {
	error
	Kind() Kind
	classified()
}

var (
	_ Error = (*NetworkFailure)(nil)
	_ Error = (*ProtocolFailure)(nil)
	_ Error = (*DataAbsentFailure)(nil)
)

// NetworkFailure is a transport or connectivity failure. It is not retried
// by this package.
type NetworkFailure struct {
	Message  string
	Cause    error
	Response *http.Response
}

func (e *NetworkFailure) Error() string { return e.Message }
func (e *NetworkFailure) Unwrap() error { return e.Cause }
func (*NetworkFailure) Kind() Kind      { return KindNetwork }
func (*NetworkFailure) classified()     {}

func (e *NetworkFailure) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind    Kind   `json:"kind"`
		Message string `json:"message"`
		Status  int    `json:"status,omitempty"`
	}{Kind: KindNetwork, Message: e.Message}
	if e.Response != nil {
		out.Status = e.Response.StatusCode
	}
	return json.Marshal(out)
}

// ProtocolFailure carries every GraphQL error reported for a result, in the
// order the server sent them.
type ProtocolFailure struct {
	Message string
	Errors  gqlerror.List
}

func (e *ProtocolFailure) Error() string { return e.Message }
func (*ProtocolFailure) Kind() Kind      { return KindProtocol }
func (*ProtocolFailure) classified()     {}

// Unwrap exposes each GraphQL error to errors.As.
func (e *ProtocolFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, ge := range e.Errors {
		if ge != nil {
			errs = append(errs, ge)
		}
	}
	return errs
}

func (e *ProtocolFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    Kind          `json:"kind"`
		Message string        `json:"message"`
		Errors  gqlerror.List `json:"errors"`
	}{KindProtocol, e.Message, e.Errors})
}

// DataAbsentFailure reports a result with no usable data and no recognised
// error.
type DataAbsentFailure struct {
	Message  string
	Combined *graphql.CombinedError
	// Cause is set when a payload was present but could not be used.
	Cause error
}

func (e *DataAbsentFailure) Error() string { return e.Message }
func (e *DataAbsentFailure) Unwrap() error { return e.Cause }
func (*DataAbsentFailure) Kind() Kind      { return KindDataAbsent }
func (*DataAbsentFailure) classified()     {}

func (e *DataAbsentFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    Kind   `json:"kind"`
		Message string `json:"message"`
	}{KindDataAbsent, e.Message})
}

// As returns the classified failure in err's chain, if any.
func As(err error) (Error, bool) {
	var ce Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err's chain holds a classified failure of kind k.
func IsKind(err error, k Kind) bool {
	ce, ok := As(err)
	return ok && ce.Kind() == k
}
