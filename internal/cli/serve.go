package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jamesprial/effectql/internal/auth"
	"github.com/jamesprial/effectql/internal/config"
	"github.com/jamesprial/effectql/internal/safety"
	"github.com/jamesprial/effectql/internal/tools"
)

const serverVersion = "1.0.0"

func newServeCommand(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve graphql_query and graphql_mutate as MCP tools over HTTP",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port, overrides server.port")

	cmd.RunE = a.wrap(func(cmd *cobra.Command, _ []string) error {
		cfg := a.cfg
		if port > 0 {
			cfg.Server.Port = port
		}

		tokenBefore := cfg.Server.AuthToken
		token, err := config.EnsureAuthToken(cfg)
		if err != nil {
			a.logger.Warn("could not generate auth token, running without authentication", "error", err)
		} else if tokenBefore == "" {
			a.logger.Info("generated auth token (set EFFECTQL_AUTH_TOKEN to persist)", "token", token)
		}

		mcpServer := server.NewMCPServer(
			"effectql",
			serverVersion,
			server.WithToolCapabilities(false),
		)
		opts := []tools.ToolOption{
			tools.WithFilter(safety.NewFilter(cfg.Safety.Allowlist, cfg.Safety.Denylist)),
		}
		if cfg.Safety.ConfirmMutations {
			opts = append(opts, tools.WithConfirmations(safety.NewConfirmations(safety.DefaultTokenTTL)))
		}
		tools.RegisterAll(mcpServer, tools.GraphQLTools(a.client, a.logger, opts...))

		handler := auth.RequireBearer(cfg.Server.AuthToken, a.logger)(server.NewStreamableHTTPServer(mcpServer))
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("effectql listening", "addr", addr, "graphql", cfg.GraphQL.URL)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown error", "error", err)
		}
		a.logger.Info("server stopped")
		return nil
	})
	return cmd
}
