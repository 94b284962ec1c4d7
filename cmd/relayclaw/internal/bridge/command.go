package bridge

import (
	"github.com/spf13/cobra"
)

func NewBridgeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "bridge",
		Aliases: []string{"b"},
		Short:   "Start the relayclaw bridge",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return bridgeCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
