// botworker - bridge between an OneBot reverse-WebSocket gateway and
// Cloudflare Workers AI.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal"
	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal/chat"
	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal/gateway"
	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal/version"
)

func NewBotworkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "botworker",
		Short:   "botworker - QQ bot bridge to Workers AI v" + internal.GetVersion(),
		Example: "botworker gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		chat.NewChatCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewBotworkerCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
