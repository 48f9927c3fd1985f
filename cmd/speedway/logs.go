package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/speedwaylabs/speedway/internal/executor"
)

func newLogsCmd() *cobra.Command {
	var runsDir string
	var phase string
	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print the phase logs of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentLog, serviceLog, testLog := executor.LogPaths(runsDir, args[0])

			paths := map[string]string{
				"agent":   agentLog,
				"service": serviceLog,
				"test":    testLog,
			}
			if phase != "" {
				path, ok := paths[phase]
				if !ok {
					return fmt.Errorf("unknown phase %q (agent, service, test)", phase)
				}
				return catFile(path)
			}

			for _, name := range []string{"agent", "service", "test"} {
				fmt.Printf("==== %s (%s) ====\n", name, paths[name])
				if err := catFile(paths[name]); err != nil {
					fmt.Printf("(no log: %s)\n", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runsDir, "runs-dir", "runs", "runs directory")
	cmd.Flags().StringVar(&phase, "phase", "", "only one phase (agent, service, test)")
	return cmd
}

func catFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}
