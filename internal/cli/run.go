package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/moviesync/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var onceProgress string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Synchronize continuously until interrupted",
	Long: `Run a pass over every configured entity type, wait for the configured
interval and repeat. A failed pass is logged and retried on the next tick.
SIGINT or SIGTERM lets the chunk in flight finish, then exits.

Examples:
  moviesync run
  moviesync run --config /etc/moviesync.yaml
  MOVIESYNC_INTERVAL=1m moviesync run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single pass and exit",
	Long: `Run one pass over every configured entity type and print a summary.
Exits non-zero when the pass fails.

Examples:
  moviesync once
  moviesync once --dry-run
  moviesync once --progress never`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	onceCmd.Flags().StringVar(&onceProgress, "progress", "auto", "show a live progress bar: auto, always or never")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx, sessionNeeds{index: true, source: true, checkpoints: true})
	if err != nil {
		return err
	}
	defer s.Close()

	return s.driver(pipeline.Options{}).Run(ctx)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx, sessionNeeds{index: true, source: true, checkpoints: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if wantProgress(onceProgress) {
		return runPassProgress(ctx, s, len(cfg.EntityTypes()))
	}

	report, err := s.driver(pipeline.Options{}).RunOnce(ctx)
	printReport(stdout, defaultTheme, report, err)
	return err
}

func wantProgress(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}
