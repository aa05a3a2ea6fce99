package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/client"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/notify"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/protocol"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/session"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/typing"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a chat in the terminal; every input line is sent as a message",
	RunE:  runChat,
}

var (
	flagChatToken string
	flagChatID    string
)

func init() {
	flags := chatCmd.Flags()
	flags.StringVar(&flagChatToken, "token", os.Getenv("TABLETALK_TOKEN"), "session token (env TABLETALK_TOKEN)")
	flags.StringVar(&flagChatID, "chat", "", "chat id to open")
}

func runChat(cmd *cobra.Command, args []string) error {
	if flagChatID == "" {
		return errors.New("--chat is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	c := client.New(client.Options{
		Config: cfg.Client,
		Toaster: func(t notify.Toast) {
			fmt.Fprintf(out, "[%s] %s %s\n", t.Level, t.Message, t.Link)
		},
		OnStateChange: func(t session.Transition) {
			fmt.Fprintf(out, "* connection %s\n", t.To)
		},
	}, logger)
	sess, err := c.Login(ctx, flagChatToken)
	if err != nil {
		return err
	}
	defer c.Logout()

	room, err := sess.OpenChat(ctx, flagChatID, client.ChatOptions{
		OnMessage: func(m protocol.Message) {
			fmt.Fprintf(out, "%s: %s\n", displayName(m), m.Body)
		},
		OnTyping: func(peers []typing.Peer) {
			if len(peers) == 0 {
				return
			}
			names := make([]string, len(peers))
			for i, p := range peers {
				names[i] = p.DisplayName
			}
			fmt.Fprintf(out, "* %s typing...\n", strings.Join(names, ", "))
		},
	})
	if err != nil {
		return err
	}
	for _, m := range room.Messages() {
		fmt.Fprintf(out, "%s: %s\n", displayName(m), m.Body)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			room.Keystroke()
			if err := room.Send(line); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func displayName(m protocol.Message) string {
	if m.SenderDisplayName != "" {
		return m.SenderDisplayName
	}
	return m.SenderID
}
