package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	historyPath string
	verbose     bool
	ansi        bool
)

var rootCmd = &cobra.Command{
	Use:   "loqa-chat",
	Short: "Talk to the loqa dialog agent from a terminal",
	Long: `loqa-chat - a console client for the loqa dialog agent.

The client finds a running loqad over NATS, records audio with the
configured capture command, streams it to the agent in fixed-size chunks
and prints the transcript as recognition and replies arrive.

Configuration is read from the optional --config YAML file, then .env and
LOQA_* environment variables, exactly like loqad.

Examples:
  # Interactive conversation
  loqa-chat

  # Replay a recording instead of using the microphone
  LOQA_CAPTURE_MODE=wav LOQA_CAPTURE_FILE=hello.wav loqa-chat

  # One-shot text query
  loqa-chat say what is the weather like`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "./data/loqa-chat.db", "sqlite file recording the transcript (empty disables)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&ansi, "ansi", false, "rewrite partial transcripts in place")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(versionCmd)
}
