package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/effect"
	"github.com/jamesprial/effectql/internal/graphql"
)

func newOperationCommand(a *app, kind graphql.OperationKind) *cobra.Command {
	var (
		query     string
		file      string
		variables string
	)
	use := "query"
	if kind == graphql.KindMutation {
		use = "mutate"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Run a single %s and print its data", kind),
		Long: fmt.Sprintf(`Run a single %s and print its data as JSON.

A failure is printed to stderr as JSON with a "kind" of NetworkFailure,
ProtocolFailure or DataAbsentFailure, and the command exits 1.`, kind),
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "GraphQL document")
	cmd.Flags().StringVarP(&file, "file", "f", "", `file holding the document ("-" for stdin)`)
	cmd.Flags().StringVar(&variables, "variables", "", "variables as a JSON object")

	cmd.RunE = a.wrap(func(cmd *cobra.Command, _ []string) error {
		doc, err := readDocument(cmd.InOrStdin(), query, file)
		if err != nil {
			return err
		}
		if doc.Kind != kind {
			return fmt.Errorf("%s expects a %s document, got a %s", use, kind, doc.Kind)
		}
		vars, err := parseVariables(variables)
		if err != nil {
			return err
		}

		var eff *effect.Effect[json.RawMessage]
		if kind == graphql.KindMutation {
			eff = effect.Mutation[json.RawMessage](a.client, doc, vars, effect.WithLogger(a.logger))
		} else {
			eff = effect.Query[json.RawMessage](a.client, doc, vars, effect.WithLogger(a.logger))
		}
		data, err := eff.Run(cmd.Context())
		if err != nil {
			return reportFailure(cmd, err)
		}
		return printJSON(cmd, data)
	})
	return cmd
}

func parseVariables(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(s), &vars); err != nil {
		return nil, fmt.Errorf("parse variables JSON: %w", err)
	}
	return vars, nil
}

// reportFailure prints a classified failure as JSON. Other errors are
// returned as they are.
func reportFailure(cmd *cobra.Command, err error) error {
	cerr, ok := classify.As(err)
	if !ok {
		return err
	}
	out, mErr := json.MarshalIndent(cerr, "", "  ")
	if mErr != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), string(out))
	return errReported
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
