package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesprial/effectql/internal/binding"
	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/graphql"
)

// watchLine is one printed state transition.
type watchLine struct {
	Loading bool            `json:"loading"`
	Stale   bool            `json:"stale"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   classify.Error  `json:"error,omitempty"`
}

func newWatchCommand(a *app) *cobra.Command {
	var (
		query     string
		file      string
		variables string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Bind a live query and print every state transition",
		Long: `Bind a live query and print every state transition as a JSON line.

With cache-first or cache-and-network the query stays live and is refetched
whenever a mutation invalidates it. The command ends on SIGINT or SIGTERM,
or when the query stream completes (network-only).`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "GraphQL query document")
	cmd.Flags().StringVarP(&file, "file", "f", "", `file holding the document ("-" for stdin)`)
	cmd.Flags().StringVar(&variables, "variables", "", "variables as a JSON object")

	cmd.RunE = a.wrap(func(cmd *cobra.Command, _ []string) error {
		doc, err := readDocument(cmd.InOrStdin(), query, file)
		if err != nil {
			return err
		}
		if doc.Kind != graphql.KindQuery {
			return fmt.Errorf("watch expects a query document, got a %s", doc.Kind)
		}
		vars, err := parseVariables(variables)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		state := binding.NewState[json.RawMessage]()
		unsubscribe := state.OnChange(func(s binding.Snapshot[json.RawMessage]) {
			line := watchLine{Loading: s.Loading, Stale: s.Stale, Error: s.Error}
			if s.Data != nil {
				line.Data = *s.Data
			}
			b, err := json.Marshal(line)
			if err != nil {
				a.logger.Warn("encode state", "error", err)
				return
			}
			fmt.Fprintln(out, string(b))
		})
		defer unsubscribe()

		q := binding.BindQuery[json.RawMessage](ctx, a.client, doc, vars, state, binding.WithLogger(a.logger))
		defer q.Cleanup()

		done := make(chan struct{})
		go func() {
			q.Wait()
			close(done)
		}()

		select {
		case <-ctx.Done():
			a.logger.Info("stopping watch")
		case <-done:
		}
		q.Cleanup()

		if err := state.Error(); err != nil && ctx.Err() == nil {
			return errReported
		}
		return nil
	})
	return cmd
}
