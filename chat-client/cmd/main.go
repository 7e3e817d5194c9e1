package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/chat-client/internal/config"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
)

// Version info set via ldflags at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chat-client",
		Short:        "Terminal client for wes-io-chat",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to config file (default ./config/config.yaml)")
	cmd.PersistentFlags().String("user", "", "your user id (overrides user.id)")
	cmd.PersistentFlags().String("peer", "", "user id to chat with (overrides peer.id)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chat-client %s\n", Version)
		},
	}
}

// loadConfig reads the config file and applies --user and --peer.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.User.ID = user
	}
	if peer, _ := cmd.Flags().GetString("peer"); peer != "" {
		cfg.Peer.ID = peer
	}
	if cfg.User.ID == "" || cfg.Peer.ID == "" {
		return nil, fmt.Errorf("both --user and --peer are required")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-client",
	})
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
