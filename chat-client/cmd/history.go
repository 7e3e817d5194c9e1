package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/chat-client/internal/history"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the conversation with --peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client := history.NewClient(cfg.History.URL, cfg.History.Timeout)
			messages, _, err := client.Fetch(cmd.Context(), cfg.User.ID, cfg.Peer.ID)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), messages)
			return nil
		},
	}
}

func printHistory(w io.Writer, messages []history.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "(no messages yet)")
		return
	}
	for _, m := range messages {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.From, m.Message)
	}
}
