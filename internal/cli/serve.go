package cli

import (
	"github.com/spf13/cobra"

	"github.com/tOgg1/opsdesk/internal/devserver"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local backend (HTTP API and push hub)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd)
		},
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address (overrides server.http_addr)")
	cmd.Flags().String("push-addr", "", "push listen address (overrides server.push_addr)")
	cmd.Flags().String("seed", "", "YAML seed file (overrides server.seed_file)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	if err := a.cfg.EnsureDirectories(); err != nil {
		return err
	}
	server := a.cfg.Server
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		server.HTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("push-addr"); v != "" {
		server.PushAddr = v
	}
	if v, _ := cmd.Flags().GetString("seed"); v != "" {
		server.SeedFile = v
	}

	a.logger.Info().
		Str("http", server.HTTPAddr).
		Str("push", server.PushAddr).
		Str("db", server.DBPath).
		Msg("starting backend")
	return devserver.Run(cmd.Context(), devserver.Config{
		HTTPAddr: server.HTTPAddr,
		PushAddr: server.PushAddr,
		DBPath:   server.DBPath,
		SeedFile: server.SeedFile,
		Metrics:  server.Metrics,
	}, a.logger)
}
