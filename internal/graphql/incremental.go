package graphql

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// payload is the JSON body shape of a GraphQL response, or of one part of an
// incremental multipart response.
type payload struct {
	Data        json.RawMessage      `json:"data"`
	Errors      gqlerror.List        `json:"errors"`
	HasNext     *bool                `json:"hasNext"`
	Incremental []incrementalPayload `json:"incremental"`
}

type incrementalPayload struct {
	Data   json.RawMessage   `json:"data"`
	Items  []json.RawMessage `json:"items"`
	Path   []any             `json:"path"`
	Errors gqlerror.List     `json:"errors"`
}

func (p payload) result(op Operation, resp *http.Response) OperationResult {
	res := OperationResult{
		Operation: op,
		Data:      normalizeData(p.Data),
		HasNext:   p.HasNext != nil && *p.HasNext,
	}
	if len(p.Errors) > 0 {
		res.Error = &CombinedError{GraphQLErrors: p.Errors, Response: resp}
	}
	return res
}

// incrementalState accumulates the payloads of a multipart response into one
// result per part.
type incrementalState struct {
	data   any
	errors gqlerror.List
}

func (s *incrementalState) apply(p payload) error {
	if raw := normalizeData(p.Data); raw != nil {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("graphql: decode incremental data: %w", err)
		}
		s.data = deepMerge(s.data, v)
	}
	s.errors = append(s.errors, p.Errors...)

	for _, inc := range p.Incremental {
		s.errors = append(s.errors, inc.Errors...)
		if raw := normalizeData(inc.Data); raw != nil {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("graphql: decode incremental data: %w", err)
			}
			s.data = updateAt(s.data, inc.Path, func(node any) any { return deepMerge(node, v) })
		}
		if len(inc.Items) > 0 {
			items := make([]any, 0, len(inc.Items))
			for _, raw := range inc.Items {
				var v any
				if err := json.Unmarshal(raw, &v); err != nil {
					return fmt.Errorf("graphql: decode incremental items: %w", err)
				}
				items = append(items, v)
			}
			s.data = updateAt(s.data, inc.Path, func(node any) any {
				list, _ := node.([]any)
				return append(list, items...)
			})
		}
	}
	return nil
}

func (s *incrementalState) result(op Operation, resp *http.Response, hasNext bool) (OperationResult, error) {
	res := OperationResult{Operation: op, HasNext: hasNext}
	if s.data != nil {
		b, err := json.Marshal(s.data)
		if err != nil {
			return res, fmt.Errorf("graphql: encode incremental data: %w", err)
		}
		res.Data = b
	}
	if len(s.errors) > 0 {
		errs := make(gqlerror.List, len(s.errors))
		copy(errs, s.errors)
		res.Error = &CombinedError{GraphQLErrors: errs, Response: resp}
	}
	return res, nil
}

// readMultipart reads a multipart/mixed body and emits one result per part.
// It stops early when emit returns false.
func readMultipart(op Operation, resp *http.Response, boundary string, emit func(OperationResult) bool) {
	if boundary == "" {
		boundary = "-"
	}
	mr := multipart.NewReader(resp.Body, boundary)
	var state incrementalState
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			emit(OperationResult{
				Operation: op,
				Error:     networkError(fmt.Errorf("graphql: read multipart response: %w", err), resp),
			})
			return
		}

		body, err := io.ReadAll(part)
		if err != nil {
			emit(OperationResult{
				Operation: op,
				Error:     networkError(fmt.Errorf("graphql: read multipart response: %w", err), resp),
			})
			return
		}
		// Heartbeat parts carry an empty object.
		if len(body) == 0 || string(body) == "{}" {
			continue
		}

		var p payload
		if err := json.Unmarshal(body, &p); err != nil {
			emit(OperationResult{
				Operation: op,
				Error:     networkError(fmt.Errorf("graphql: decode response: %w", err), resp),
			})
			return
		}
		if err := state.apply(p); err != nil {
			emit(OperationResult{Operation: op, Error: networkError(err, resp)})
			return
		}
		hasNext := p.HasNext != nil && *p.HasNext
		res, err := state.result(op, resp, hasNext)
		if err != nil {
			res.Error = networkError(err, resp)
		}
		if !emit(res) || !hasNext {
			return
		}
	}
}

// updateAt replaces the node at path within root by fn(node). String path
// segments index objects and numeric ones index lists; a path that does not
// resolve leaves root unchanged.
func updateAt(root any, path []any, fn func(any) any) any {
	if len(path) == 0 {
		return fn(root)
	}
	switch node := root.(type) {
	case map[string]any:
		key, ok := path[0].(string)
		if !ok {
			return root
		}
		node[key] = updateAt(node[key], path[1:], fn)
		return node
	case []any:
		idx, ok := path[0].(float64)
		if !ok || idx < 0 || int(idx) >= len(node) {
			return root
		}
		node[int(idx)] = updateAt(node[int(idx)], path[1:], fn)
		return node
	}
	return root
}

func deepMerge(dst, src any) any {
	d, ok := dst.(map[string]any)
	if !ok {
		return src
	}
	s, ok := src.(map[string]any)
	if !ok {
		return src
	}
	for k, v := range s {
		d[k] = deepMerge(d[k], v)
	}
	return d
}
