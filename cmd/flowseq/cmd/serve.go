package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/abramin/flowseq/internal/server"
	"github.com/abramin/flowseq/internal/telemetry"
)

var (
	servePort    int
	serveProject string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"ui"},
	Short:   "Start the flowseq API server",
	Long: `Start a local HTTP server over the project index.

The server provides:
- Function search over the index
- Diagram sessions that can be filtered and regenerated
- Unified diffs between successive diagrams
- Call navigation for editors
- Prometheus metrics on /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		tel, err := telemetry.Init(cmd.Context(), cfg.Telemetry, version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				log.Printf("Telemetry shutdown: %v", err)
			}
		}()

		srv, err := server.New(server.Config{
			Port:       port,
			ProjectDir: serveProject,
			Settings:   cfg,
			Metrics:    tel.MetricsHandler(),
		})
		if err != nil {
			return err
		}
		return srv.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to run the server on")
	serveCmd.Flags().StringVarP(&serveProject, "project", "C", ".", "project directory holding .flowseq/index.db")
}
