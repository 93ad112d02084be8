package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-dialog/internal/session"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:     "chat",
	Aliases: []string{"c"},
	Short:   "Start an interactive conversation",
	Long: `Start an interactive conversation with the dialog agent.

Press Enter on an empty line to start listening and again to stop. Any other
line is sent as a text query.

Commands:
  /history   print the events recorded for this session
  /quit      leave the conversation`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openConsole(ctx, cfg, logger, consoleOptions{out: cmd.OutOrStdout(), captureAudio: true})
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "session %s. Enter toggles listening, /quit exits.\n", c.client.SessionID())
	agentReady := c.waitForAgent(ctx)

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := c.handleLine(ctx, strings.TrimSpace(line), &agentReady, out)
			if err != nil {
				fmt.Fprintln(out, err)
			}
			if done {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func (c *console) handleLine(ctx context.Context, line string, agentReady *bool, out io.Writer) (bool, error) {
	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/history":
		return false, c.printHistory(ctx, out)
	case "":
		if c.session.State() == session.Listening {
			c.session.StopListening()
			return false, nil
		}
		if !*agentReady {
			*agentReady = c.waitForAgent(ctx)
			if !*agentReady {
				return false, nil
			}
		}
		if err := c.session.StartListening(); err != nil {
			var serr *session.Error
			if errors.As(err, &serr) {
				// already shown in the transcript
				return false, nil
			}
			return false, err
		}
		fmt.Fprintln(out, "listening...")
		return false, nil
	default:
		return false, c.session.SendText(line)
	}
}

func (c *console) printHistory(ctx context.Context, out io.Writer) error {
	if historyPath == "" {
		return errors.New("history is disabled")
	}
	events, err := c.store.ListSessionEvents(ctx, c.client.SessionID(), 100)
	if err != nil {
		return err
	}
	for _, evt := range events {
		fmt.Fprintf(out, "%s %-18s %s\n", evt.CreatedAt.Format("15:04:05"), evt.Type, evt.Payload)
	}
	return nil
}

