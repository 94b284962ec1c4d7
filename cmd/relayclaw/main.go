// RelayClaw - Slack/Zulip/GroupMe chat bridge

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/relayclaw/cmd/relayclaw/internal"
	"github.com/tinyland-inc/relayclaw/cmd/relayclaw/internal/bridge"
	"github.com/tinyland-inc/relayclaw/cmd/relayclaw/internal/version"
)

func NewRelayclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s relayclaw - Chat bridge v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "relayclaw",
		Short:   short,
		Example: "relayclaw bridge",
	}

	cmd.AddCommand(
		bridge.NewBridgeCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewRelayclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
