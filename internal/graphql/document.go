package graphql

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

const typenameField = "__typename"

// Document is a parsed GraphQL document holding exactly one operation.
type Document struct {
	// Source is the document text as written by the caller.
	Source string
	// Query is the text sent over the wire, with __typename selected in every
	// non-root selection set.
	Query string
	Kind  OperationKind
	Name  string
}

// ParseDocument parses src and prepares it for execution. The document must
// contain exactly one operation; fragment definitions are allowed.
func ParseDocument(src string) (*Document, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: src})
	if err != nil {
		return nil, fmt.Errorf("graphql: parse document: %w", err)
	}
	switch len(doc.Operations) {
	case 0:
		return nil, ErrNoOperation
	case 1:
	default:
		return nil, ErrMultipleOperations
	}

	op := doc.Operations[0]
	for _, sel := range op.SelectionSet {
		addTypenames(sel)
	}
	for _, frag := range doc.Fragments {
		addTypenameTo(&frag.SelectionSet)
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)

	return &Document{
		Source: src,
		Query:  buf.String(),
		Kind:   OperationKind(op.Operation),
		Name:   op.Name,
	}, nil
}

// MustParseDocument is like ParseDocument but panics on error. It is meant
// for package-level document variables.
func MustParseDocument(src string) *Document {
	d, err := ParseDocument(src)
	if err != nil {
		panic(err)
	}
	return d
}

// addTypenames walks sel and adds __typename to each nested selection set.
// The operation root is left untouched.
func addTypenames(sel ast.Selection) {
	switch s := sel.(type) {
	case *ast.Field:
		if len(s.SelectionSet) > 0 {
			addTypenameTo(&s.SelectionSet)
		}
	case *ast.InlineFragment:
		for _, child := range s.SelectionSet {
			addTypenames(child)
		}
	}
}

func addTypenameTo(set *ast.SelectionSet) {
	has := false
	for _, child := range *set {
		if f, ok := child.(*ast.Field); ok && f.Name == typenameField && f.Alias == typenameField {
			has = true
		}
		addTypenames(child)
	}
	if !has {
		*set = append(*set, &ast.Field{Name: typenameField, Alias: typenameField})
	}
}
