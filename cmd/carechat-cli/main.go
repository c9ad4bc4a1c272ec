// Command carechat-cli asks the care backends a question directly or chats
// with a running carechat service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/logging"
)

var (
	// Global flags
	verbose bool
	timeout time.Duration

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "carechat-cli",
	Short: "Talk to the care assistant from a terminal",
	Long: `carechat-cli sends symptom and patient-journey questions to the care
assistant.

  ask   runs one question straight against the enrichment and
        orchestration backends, polling until the answer is ready
  chat  opens an interactive session with a carechat service over WebSocket`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewCLI(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long (0 disables)")

	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newChatCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
