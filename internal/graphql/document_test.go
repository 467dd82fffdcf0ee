package graphql

import (
	"errors"
	"strings"
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// reparse parses the wire text of d so tests can inspect its selections.
func reparse(t *testing.T, d *Document) *ast.QueryDocument {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: d.Query})
	if err != nil {
		t.Fatalf("wire query does not parse: %v\n%s", err, d.Query)
	}
	return doc
}

func hasTypename(set ast.SelectionSet) bool {
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && f.Name == typenameField {
			return true
		}
	}
	return false
}

func countTypename(set ast.SelectionSet) int {
	n := 0
	for _, sel := range set {
		if f, ok := sel.(*ast.Field); ok && f.Name == typenameField {
			n++
		}
	}
	return n
}

func Test_ParseDocument_KindAndName(t *testing.T) {
	tests := []struct {
		src      string
		wantKind OperationKind
		wantName string
	}{
		{`{ pokemon(name: "pikachu") { name } }`, KindQuery, ""},
		{`query GetPokemon { pokemon(name: "pikachu") { name } }`, KindQuery, "GetPokemon"},
		{`mutation Catch($n: String!) { catch(name: $n) { id } }`, KindMutation, "Catch"},
		{`subscription OnCatch { caught { name } }`, KindSubscription, "OnCatch"},
	}
	for _, tt := range tests {
		d, err := ParseDocument(tt.src)
		if err != nil {
			t.Fatalf("ParseDocument(%q): %v", tt.src, err)
		}
		if d.Kind != tt.wantKind || d.Name != tt.wantName {
			t.Errorf("ParseDocument(%q) = (%s, %q), want (%s, %q)", tt.src, d.Kind, d.Name, tt.wantKind, tt.wantName)
		}
		if d.Source != tt.src {
			t.Errorf("Source = %q, want the caller's text", d.Source)
		}
	}
}

func Test_ParseDocument_AddsTypenameBelowRoot(t *testing.T) {
	d := MustParseDocument(`query { pokemon(name: "pikachu") { name attacks { special { name } } } }`)
	op := reparse(t, d).Operations[0]

	if hasTypename(op.SelectionSet) {
		t.Error("root selection set must not select __typename")
	}
	pokemon := op.SelectionSet[0].(*ast.Field)
	if !hasTypename(pokemon.SelectionSet) {
		t.Error("pokemon selection lacks __typename")
	}
	var attacks *ast.Field
	for _, sel := range pokemon.SelectionSet {
		if f, ok := sel.(*ast.Field); ok && f.Name == "attacks" {
			attacks = f
		}
	}
	if attacks == nil || !hasTypename(attacks.SelectionSet) {
		t.Fatal("attacks selection lacks __typename")
	}
	special := attacks.SelectionSet[0].(*ast.Field)
	if !hasTypename(special.SelectionSet) {
		t.Error("special selection lacks __typename")
	}
	name := pokemon.SelectionSet[0].(*ast.Field)
	if len(name.SelectionSet) != 0 {
		t.Error("leaf fields must stay leaves")
	}
}

func Test_ParseDocument_DoesNotDuplicateTypename(t *testing.T) {
	d := MustParseDocument(`{ pokemon { __typename name } }`)
	op := reparse(t, d).Operations[0]
	pokemon := op.SelectionSet[0].(*ast.Field)
	if n := countTypename(pokemon.SelectionSet); n != 1 {
		t.Errorf("__typename selected %d times, want 1", n)
	}
}

func Test_ParseDocument_AliasedTypenameStillAdds(t *testing.T) {
	d := MustParseDocument(`{ pokemon { kind: __typename name } }`)
	op := reparse(t, d).Operations[0]
	pokemon := op.SelectionSet[0].(*ast.Field)
	if n := countTypename(pokemon.SelectionSet); n != 2 {
		t.Errorf("__typename selected %d times, want the alias plus the cache field", n)
	}
}

func Test_ParseDocument_FragmentsAndInlineFragments(t *testing.T) {
	d := MustParseDocument(`
		query { search { ... on Pokemon { evolutions { name } } ...Trainer } }
		fragment Trainer on Person { name badges { name } }
	`)
	doc := reparse(t, d)

	frag := doc.Fragments.ForName("Trainer")
	if frag == nil {
		t.Fatal("fragment dropped from the wire text")
	}
	if !hasTypename(frag.SelectionSet) {
		t.Error("fragment selection lacks __typename")
	}
	if !strings.Contains(d.Query, "evolutions") {
		t.Fatalf("inline fragment dropped:\n%s", d.Query)
	}
	search := doc.Operations[0].SelectionSet[0].(*ast.Field)
	inline := search.SelectionSet[0].(*ast.InlineFragment)
	evolutions := inline.SelectionSet[0].(*ast.Field)
	if !hasTypename(evolutions.SelectionSet) {
		t.Error("field inside inline fragment lacks __typename")
	}
}

func Test_ParseDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantIs  error
		wantMsg string
	}{
		{name: "syntax error", src: `{ pokemon `, wantMsg: "graphql: parse document:"},
		{name: "empty", src: ``, wantIs: ErrNoOperation},
		{name: "fragment only", src: `fragment F on Pokemon { name }`, wantIs: ErrNoOperation},
		{name: "two operations", src: `query A { a } query B { b }`, wantIs: ErrMultipleOperations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDocument(tt.src)
			if err == nil {
				t.Fatalf("expected error, got document %+v", d)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && !strings.HasPrefix(err.Error(), tt.wantMsg) {
				t.Errorf("err = %q, want prefix %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func Test_MustParseDocument_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParseDocument did not panic on invalid input")
		}
	}()
	MustParseDocument(`{`)
}
