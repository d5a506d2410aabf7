package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/strikewatch/internal/config"
	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/pipeline"
	"github.com/rewired-gh/strikewatch/internal/storage"
	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "strikewatch",
		Short: "Score index snapshots, filter candidates and simulate their outcomes",
		Long: `strikewatch polls NIFTY, BANKNIFTY and SENSEX snapshots, scores each one,
keeps the candidates above the profile threshold and resolves them with a
seeded outcome simulator. It never places orders.`,
		SilenceUsage: true,
		RunE:         runService,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the pipeline on the configured interval (default)",
			RunE:  runService,
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single cycle and print its summary",
			RunE:  runOnce,
		},
		newStatsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "strikewatch", version)
			},
		},
	)
	return root
}

// loadConfig loads, validates and applies the logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", configPath)
	return cfg, nil
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received, cleaning up...")
	}()

	return a.runService(ctx)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := a.runOnce(ctx)
	printSummary(cmd, summary)
	return err
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		logger.Error("Failed to close resources: %v", err)
	}
}

func printSummary(cmd *cobra.Command, s pipeline.CycleSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cycle at %s (%s)\n", s.StartedAt.Format(time.RFC3339), s.Duration.Round(time.Millisecond))
	for _, r := range s.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "  %-10s FAILED  %v\n", r.Instrument, r.Err)
		case r.Suppressed:
			fmt.Fprintf(out, "  %-10s %-8s %5.1f%%  suppressed\n", r.Instrument, r.Candidate.Direction, r.Candidate.Confidence)
		case r.Outcome != nil:
			fmt.Fprintf(out, "  %-10s %-8s %5.1f%%  %s %s\n", r.Instrument, r.Candidate.Direction,
				r.Candidate.Confidence, r.Outcome.Result(), r.Outcome.PnL.StringFixed(2))
		default:
			fmt.Fprintf(out, "  %-10s %-8s %5.1f%%  rejected\n", r.Instrument, r.Candidate.Direction, r.Candidate.Confidence)
		}
	}
	fmt.Fprintf(out, "accepted=%d rejected=%d suppressed=%d failed=%d wins=%d losses=%d pnl=%s\n",
		s.Accepted, s.Rejected, s.Suppressed, s.Failed, s.Wins, s.Losses, s.PnL.StringFixed(2))
}

func newStatsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print outcome statistics from storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.New(cfg.Storage.MaxRecords, cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close storage: %v", err)
				}
			}()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			st, err := store.LoadStats(from)
			if err != nil {
				return fmt.Errorf("failed to load stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Outcomes: %d (wins %d, losses %d)\n", st.Total, st.Wins, st.Losses)
			fmt.Fprintf(out, "Win rate: %.1f%%\n", st.WinRate)
			fmt.Fprintf(out, "Total P&L: %s (avg %s, best %s, worst %s)\n",
				st.TotalPnL.StringFixed(2), st.AvgPnL.StringFixed(2), st.BestPnL.StringFixed(2), st.WorstPnL.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only include outcomes resolved within this window (0 = all)")
	return cmd
}
