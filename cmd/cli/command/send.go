package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echohub/internal/microservices/tcp"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	message string
	repeat  int
)

// sendCmd sends one message and waits for the full echo
var sendCmd = &cobra.Command{
	Use:   "send [host]",
	Short: "Send a message to the echo server and wait for the echo",
	Long: `Connect to the echo server, send the message, and read chunks until as many
bytes have come back as were sent. Chunk boundaries are whatever the network
produced; only the total is checked.

Examples:
  echohubCLI send
  echohubCLI send farnsworth.local --message "hello"
  echohubCLI send --repeat 3`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateCommon(); err != nil {
			return err
		}
		if repeat < 1 {
			return fmt.Errorf("--repeat must be at least 1")
		}
		mode, host, err := resolveTarget(args)
		if err != nil {
			return err
		}

		logger := newLogger(cmd)
		diag := tcp.NewSlogDiagnostics(logger)
		defer diag.Close()

		client := tcp.NewClient(tcp.ClientConfig{
			Mode:      mode,
			Host:      host,
			Port:      port,
			ChunkSize: chunkSize,
			Timeout:   timeout,
		},
			tcp.WithClientLogger(logger),
			tcp.WithClientDiagnostics(diag),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		for i := 0; i < repeat; i++ {
			res, err := client.Echo(ctx, []byte(message))
			if err != nil {
				return fmt.Errorf("echo failed: %w", err)
			}
			printResult(out, res)
			if !res.Matches() {
				return fmt.Errorf("echo mismatch in session %s", res.SessionID)
			}
		}
		return nil
	},
}

func printResult(out io.Writer, res *tcp.EchoResult) {
	fmt.Fprintf(out, "sending %q\n", res.Sent)
	for _, chunk := range res.Chunks {
		fmt.Fprintf(out, "received %q\n", chunk)
	}

	summary := fmt.Sprintf("%d bytes in %d chunks (%s)", len(res.Received), len(res.Chunks), res.Duration.Round(time.Microsecond))
	if res.Matches() {
		color.New(color.FgGreen).Fprintf(out, "✓ echo complete: %s\n", summary)
	} else {
		color.New(color.FgRed).Fprintf(out, "✗ echo mismatch: %s\n", summary)
	}
}

func init() {
	sendCmd.Flags().StringVarP(&message, "message", "m", tcp.DefaultMessage, "message to send")
	sendCmd.Flags().IntVar(&repeat, "repeat", 1, "number of sequential sessions")
	rootCmd.AddCommand(sendCmd)
}
