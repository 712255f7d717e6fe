package command

// root.go defines the root command for the echohubCLI application.
// set up the global flags and shared helpers here.

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"echohub/internal/microservices/tcp"
	"echohub/internal/shared"

	"github.com/spf13/cobra"
)

var (
	modeFlag  string        // loopback | explicit | wildcard
	port      int           // server port
	chunkSize int           // bytes per receive call
	timeout   time.Duration // dial + per I/O timeout, 0 = block
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "echohubCLI",
	Short: "echohubCLI - TCP echo server and client",
	Long: `echohubCLI runs a TCP echo server that serves one client at a time and a
matching client that sends a message and waits for all of it to come back.

Address modes:
- loopback  binds/connects to localhost (default)
- explicit  binds/connects to the host given as the first argument
- wildcard  binds every local interface (server only)

Diagnostics are written to standard error; echoed data goes to standard output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "address mode: loopback, explicit or wildcard (default loopback, explicit when a host is given)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", tcp.DefaultPort, "TCP port")
	rootCmd.PersistentFlags().IntVar(&chunkSize, "chunk-size", tcp.DefaultChunkSize, "bytes read per receive call")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "dial and per-read/write timeout (0 blocks forever)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
}

var errHostRequired = errors.New("explicit mode requires a host argument")

// resolveTarget turns the --mode flag and positional args into a mode and host.
// A host with no --mode means explicit.
func resolveTarget(args []string) (tcp.Mode, string, error) {
	host := ""
	if len(args) > 0 {
		host = args[0]
	}

	if modeFlag == "" {
		if host != "" {
			return tcp.ModeExplicit, host, nil
		}
		return tcp.ModeLoopback, "", nil
	}

	mode, err := tcp.ParseMode(modeFlag)
	if err != nil {
		return 0, "", err
	}
	switch {
	case mode == tcp.ModeExplicit && host == "":
		return 0, "", errHostRequired
	case mode != tcp.ModeExplicit && host != "":
		return 0, "", fmt.Errorf("host argument %q is only used in explicit mode (got --mode %s)", host, mode)
	}
	return mode, host, nil
}

func validateCommon() error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535, got %d", port)
	}
	if chunkSize <= 0 {
		return fmt.Errorf("--chunk-size must be greater than 0, got %d", chunkSize)
	}
	if timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}
	return nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	return shared.NewLogger(logLevel, logFormat, cmd.ErrOrStderr())
}
