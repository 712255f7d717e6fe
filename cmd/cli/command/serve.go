package command

import (
	"os"
	"os/signal"
	"syscall"

	"echohub/internal/microservices/tcp"

	"github.com/spf13/cobra"
)

var diagRate int

// serveCmd runs the echo server in the foreground
var serveCmd = &cobra.Command{
	Use:   "serve [host]",
	Short: "Run the echo server",
	Long: `Bind, listen and echo every byte each client sends until it closes its side.
Clients are served one at a time; the next one is accepted after the current one leaves.

Examples:
  echohubCLI serve                     # localhost:10000
  echohubCLI serve farnsworth.local    # explicit host
  echohubCLI serve --mode wildcard     # all interfaces

Press Ctrl+C to stop. A client being served is allowed to finish first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateCommon(); err != nil {
			return err
		}
		mode, host, err := resolveTarget(args)
		if err != nil {
			return err
		}

		logger := newLogger(cmd)
		diag := tcp.NewSlogDiagnostics(logger, tcp.WithChunkRate(diagRate))
		defer diag.Close()

		server := tcp.NewServer(tcp.ServerConfig{
			Mode:      mode,
			Host:      host,
			Port:      port,
			ChunkSize: chunkSize,
			IOTimeout: timeout,
		},
			tcp.WithLogger(logger),
			tcp.WithDiagnostics(diag),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&diagRate, "diag-rate", 0, "max chunk diagnostics per second (0 = unlimited)")
	rootCmd.AddCommand(serveCmd)
}
