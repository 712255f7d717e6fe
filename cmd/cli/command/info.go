package command

import (
	"fmt"

	"echohub/internal/microservices/tcp"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// infoCmd connects and reports what kind of socket was created
var infoCmd = &cobra.Command{
	Use:   "info [host]",
	Short: "Connect and show the socket family, type and protocol",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateCommon(); err != nil {
			return err
		}
		mode, host, err := resolveTarget(args)
		if err != nil {
			return err
		}

		client := tcp.NewClient(tcp.ClientConfig{
			Mode:    mode,
			Host:    host,
			Port:    port,
			Timeout: timeout,
		}, tcp.WithClientLogger(newLogger(cmd)))

		info, err := client.Probe(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		label := color.New(color.FgCyan)
		label.Fprint(out, "Family  : ")
		fmt.Fprintln(out, info.Family)
		label.Fprint(out, "Type    : ")
		fmt.Fprintln(out, info.Type)
		label.Fprint(out, "Protocol: ")
		fmt.Fprintln(out, info.Protocol)
		label.Fprint(out, "Remote  : ")
		fmt.Fprintln(out, info.Remote)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
