package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/speedwaylabs/speedway/internal/executor"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Execute the experiment matrix described by a job file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				sig := <-sigChan
				slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
				cancel()
			}()

			sum, err := executor.RunFromConfig(ctx, args[0])
			if err != nil {
				return err
			}

			printSummary(sum)

			if !sum.AllPassed() {
				os.Exit(1)
			}
			return nil
		},
	}
}

func printSummary(sum executor.Summary) {
	fmt.Printf("\nTotal experiments: %d\n", sum.Total)
	fmt.Printf("Passed:    %d\n", sum.Passed)
	fmt.Printf("Failed:    %d\n", sum.Failed)
	fmt.Printf("Errors:    %d\n", sum.Errors)
	fmt.Printf("Timeouts:  %d\n", sum.Timeouts)
	fmt.Printf("Cancelled: %d\n", sum.Cancelled)
	fmt.Printf("Pass rate: %.2f%%\n", sum.PassRate*100)
	fmt.Printf("Duration:  %.2fs\n", sum.DurationSec)

	if len(sum.ByAgent) > 0 {
		agents := make([]string, 0, len(sum.ByAgent))
		for name := range sum.ByAgent {
			agents = append(agents, name)
		}
		sort.Strings(agents)
		fmt.Println("\nBy agent:")
		for _, name := range agents {
			tally := sum.ByAgent[name]
			fmt.Printf("  %-20s %d/%d passed\n", name, tally.Passed, tally.Total)
		}
	}
}
