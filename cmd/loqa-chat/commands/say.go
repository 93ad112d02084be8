package commands

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:   "say <text...>",
	Short: "Send one text query and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := openConsole(ctx, cfg, logger, consoleOptions{out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer c.Close()

		if !c.waitForAgent(ctx) {
			return errors.New("no dialog agent available")
		}
		if err := c.session.SendText(strings.Join(args, " ")); err != nil {
			return err
		}
		timeout := time.Duration(cfg.Session.RequestTimeoutMS)*time.Millisecond + time.Second
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.awaitIdle(waitCtx)
	},
}
