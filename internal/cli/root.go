// Package cli implements the effectql command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/jamesprial/effectql/internal/audit"
	"github.com/jamesprial/effectql/internal/config"
	"github.com/jamesprial/effectql/internal/eventbus"
	"github.com/jamesprial/effectql/internal/graphql"
	"github.com/jamesprial/effectql/internal/telemetry"
)

const defaultConfigPath = "config.yaml"

// errReported marks a failure whose details were already written to the
// command's error stream.
var errReported = errors.New("operation failed")

type rootFlags struct {
	configPath string
	debug      bool
	url        string
	policy     string
}

// app is the process wiring shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *graphql.HTTPClient
	closers []func(context.Context) error
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		}
		os.Exit(1)
	}
}

// NewRootCommand builds the effectql command tree.
func NewRootCommand() *cobra.Command {
	var (
		flags rootFlags
		a     app
	)

	root := &cobra.Command{
		Use:   "effectql",
		Short: "Typed, classified GraphQL operations from the command line",
		Long: `effectql runs GraphQL queries and mutations, classifies every failure as a
NetworkFailure, ProtocolFailure or DataAbsentFailure, watches live query
state, and serves the same operations as MCP tools.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			if err := a.setup(cmd.Context(), flags); err != nil {
				a.close(context.WithoutCancel(cmd.Context()))
				return err
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $EFFECTQL_CONFIG_PATH or config.yaml)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.StringVar(&flags.url, "url", "", "GraphQL endpoint, overrides graphql.url")
	pf.StringVar(&flags.policy, "policy", "", "request policy: cache-first, cache-and-network or network-only")

	root.AddCommand(
		newOperationCommand(&a, graphql.KindQuery),
		newOperationCommand(&a, graphql.KindMutation),
		newWatchCommand(&a),
		newServeCommand(&a),
	)
	return root
}

// wrap closes the app's resources once fn returns, whatever its outcome.
func (a *app) wrap(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
			defer cancel()
			a.close(ctx)
		}()
		return fn(cmd, args)
	}
}

func (a *app) setup(ctx context.Context, flags rootFlags) error {
	_ = godotenv.Load()

	path := flags.configPath
	if path == "" {
		path = os.Getenv("EFFECTQL_CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
	}
	cfg, loadErr := config.LoadConfig(path)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}
	config.ApplyEnvOverrides(cfg)
	if flags.url != "" {
		cfg.GraphQL.URL = flags.url
	}
	if flags.policy != "" {
		cfg.Cache.Policy = flags.policy
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	a.logger = slog.Default()
	if loadErr != nil {
		a.logger.Debug("using default config", "path", path, "error", loadErr)
	} else {
		a.logger.Debug("loaded config", "path", path)
	}

	bus := eventbus.New()
	eventbus.Use(bus)
	a.closers = append(a.closers, func(context.Context) error {
		eventbus.Use(nil)
		return nil
	})

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.Service, bus)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
	} else {
		a.closers = append(a.closers, shutdown)
	}

	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			a.logger.Warn("audit journal disabled", "path", cfg.Audit.LogPath, "error", err)
		} else {
			detach := audit.Attach(bus, audit.NewJournal(f), func(err error) {
				a.logger.Warn("audit write failed", "error", err)
			})
			a.closers = append(a.closers, func(context.Context) error {
				detach()
				return f.Close()
			})
		}
	}

	client, err := graphql.NewHTTPClient(cfg.GraphQL,
		graphql.WithRequestPolicy(graphql.RequestPolicy(cfg.Cache.Policy)))
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// readDocument returns the document from -q, or from --file ("-" for stdin).
func readDocument(stdin io.Reader, query, file string) (*graphql.Document, error) {
	src := query
	switch {
	case src != "" && file != "":
		return nil, errors.New("use either --query or --file, not both")
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		src = string(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		src = string(b)
	}
	if src == "" {
		return nil, errors.New("a document is required (--query or --file)")
	}
	return graphql.ParseDocument(src)
}
