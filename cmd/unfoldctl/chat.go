package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/unfolding/internal/chat"
	"github.com/ashureev/unfolding/internal/chatclient"
	"github.com/ashureev/unfolding/internal/domain"
	"github.com/spf13/cobra"
)

var reconnectInterval time.Duration

var chatCmd = &cobra.Command{
	Use:   "chat <session-id>",
	Short: "Chat in a session's current stage",
	Long: `Open an interactive chat over WebSocket. Each line on stdin is sent as one
turn; the reply is streamed as it is generated. Ctrl-D or Ctrl-C ends it.

Examples:
  unfoldctl chat 3f0c... --user anon_0123...`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().DurationVar(&reconnectInterval, "reconnect", chatclient.DefaultReconnectInterval, "wait between reconnect attempts")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatclient.New(chatclient.Options{
		URL:               wsURL(serverURL),
		Header:            identityHeader(userID),
		ReconnectInterval: reconnectInterval,
		OnStatus: func(s chatclient.Status) {
			fmt.Fprintf(errOut, "[%s]\n", s)
		},
		OnFrame: func(f chat.Frame) { renderFrame(out, errOut, f) },
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			err := client.Send(ctx, sessionID, line)
			switch {
			case errors.Is(err, chatclient.ErrNotConnected):
				fmt.Fprintln(errOut, "not connected yet, try again in a moment")
			case err != nil:
				fmt.Fprintf(errOut, "send failed: %v\n", err)
			}
		}
	}
}

// scanLines feeds stdin lines to ch and closes it at EOF. It blocks on
// stdin and exits with the process.
func scanLines(r io.Reader, ch chan<- string) {
	defer close(ch)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ch <- sc.Text()
	}
}

func renderFrame(out, errOut io.Writer, f chat.Frame) {
	switch f.Type {
	case chat.TypeChunk:
		fmt.Fprint(out, f.Content)
	case chat.TypeEnd:
		fmt.Fprintln(out)
	case chat.TypeError:
		fmt.Fprintf(errOut, "error (%s): %s\n", f.Kind, f.Message)
	case domain.EventUIReady:
		var ready domain.ReadyData
		if raw, err := json.Marshal(f.Data); err == nil && json.Unmarshal(raw, &ready) == nil {
			fmt.Fprintf(errOut, "== %s is ready: %s (run: unfoldctl advance %s)\n", ready.Stage, ready.Summary, f.SessionID)
		}
	}
}
