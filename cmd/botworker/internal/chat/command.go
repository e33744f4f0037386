package chat

import (
	"github.com/spf13/cobra"
)

func NewChatCommand() *cobra.Command {
	var message string
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the chat capability from the terminal",
		Long:  "Sends messages straight to the chat-completion backend, keeping an in-memory history. Useful for verifying credentials and the persona prompt without a gateway.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return chatCmd(configPath, message, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
