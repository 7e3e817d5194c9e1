package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/chat-client/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/history"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/protocol"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/reconnect"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/socket"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/tracker"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/transport"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with --peer; each stdin line is sent as a message",
		Long: "Chat with --peer. Each line read from stdin is sent as a message.\n" +
			"Commands: /status lists your messages with their delivery state, /quit leaves.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// console serialises writes from the socket and tracker goroutines.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func runChat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	con := &console{w: out}
	peer := cfg.Peer.ID

	hist := history.NewClient(cfg.History.URL, cfg.History.Timeout)
	if messages, cached, err := hist.Fetch(ctx, cfg.User.ID, peer); err != nil {
		con.printf("! history unavailable: %v\n", err)
	} else {
		if cached {
			con.printf("! showing cached history\n")
		}
		var b strings.Builder
		printHistory(&b, messages)
		con.printf("%s", b.String())
	}

	tr := tracker.New(cfg.Ack.Timeout, tracker.OnResolved(func(m tracker.Message) {
		switch m.Status {
		case tracker.Delivered:
			hist.Remember(m.To, history.Message{
				ID: m.CorrelationID, From: m.From, To: m.To, Message: m.Text, Timestamp: m.ServerTime,
			})
		case tracker.Failed:
			con.printf("! Failed to deliver message %q. Please try again.\n", m.Text)
		case tracker.TimedOut:
			con.printf("! no confirmation for %q yet (timeout)\n", m.Text)
		}
	}))

	ctrl := reconnect.New(reconnect.Options{
		Attempts:      cfg.Reconnect.Attempts,
		Delay:         cfg.Reconnect.Delay,
		DelayMax:      cfg.Reconnect.DelayMax,
		Randomization: cfg.Reconnect.Randomization,
		Transports:    cfg.Transports,
	}, func(ctx context.Context, name string) (transport.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Server.ConnectTimeout)
		defer cancel()
		return transport.Dial(dialCtx, name, cfg.Server.URL)
	})
	ctrl.OnStateChange(func(s reconnect.State) {
		con.printf("* %s\n", s)
	})
	ctrl.OnRetry(func(n int, d time.Duration) {
		con.printf("* reconnection attempt #%d in %s\n", n, d.Round(time.Millisecond))
	})

	client := socket.New(ctrl, tr, socket.Options{
		UserID:    cfg.User.ID,
		KeepAlive: cfg.KeepAlive.Interval,
	}, socket.Handlers{
		OnMessage: func(m protocol.Message) {
			if m.From == peer {
				hist.Remember(peer, history.Message{
					ID: m.ID, From: m.From, To: m.To, Message: m.Message, Timestamp: m.Time(),
				})
			}
			con.printf("[%s] %s: %s\n", m.Time().Local().Format("15:04"), m.From, m.Message)
		},
		OnPresence: func(p protocol.Presence) {
			if p.UserID == cfg.User.ID {
				return
			}
			state := "offline"
			if p.Online {
				state = "online"
			}
			con.printf("* %s is %s\n", p.UserID, state)
		},
		OnServerError: func(msg string) {
			con.printf("! server: %s\n", msg)
		},
		OnNotice: func(msg string) {
			con.printf("! %s\n", msg)
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return closeClient(client, runErr)
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return closeClient(client, runErr)
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				return closeClient(client, runErr)
			case line == "/status":
				now := time.Now()
				for _, m := range tr.Messages() {
					if left := m.Remaining(now); left > 0 {
						con.printf("  %-9s %s (%s left)\n", m.Status, m.Text, left.Round(100*time.Millisecond))
						continue
					}
					con.printf("  %-9s %s\n", m.Status, m.Text)
				}
			default:
				if _, err := client.Send(ctx, peer, line); err != nil {
					con.printf("! not sent: %v\n", err)
				}
			}
		}
	}
}

func closeClient(client *socket.Client, runErr <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client.Close(ctx)

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}
