package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("botworker %s (%s)\n", internal.FormatVersion(), internal.GoVersion())
		},
	}
}
