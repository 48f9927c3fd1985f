package main

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/speedwaylabs/speedway/internal/agent"
	"github.com/speedwaylabs/speedway/internal/config"
)

// newValidateCmd checks a job file end to end without running anything: the
// config parses, every task directory has the structure a run needs, every
// agent is known, and its CLI binary is on PATH.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <job.yaml>",
		Short: "Check a job file, its tasks, and its agent binaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadJobConfig(args[0])
			if err != nil {
				return err
			}

			var problems []string

			for _, task := range cfg.Tasks {
				dir := filepath.Join(cfg.TasksDir, task)
				taskCfg, err := config.LoadTaskConfig(dir)
				if err != nil {
					problems = append(problems, err.Error())
					continue
				}
				if err := config.ValidateTaskDir(dir, taskCfg); err != nil {
					problems = append(problems, err.Error())
				}
			}

			registry := agent.NewRegistry()
			for _, ref := range cfg.Agents {
				ad, err := registry.Get(ref.Name)
				if err != nil {
					problems = append(problems, err.Error())
					continue
				}
				bin, _ := ad.Command(ref.Model)
				if _, err := exec.LookPath(bin); err != nil {
					problems = append(problems, fmt.Sprintf("agent %s: binary %q not found on PATH", ref.Name, bin))
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Println("FAIL:", p)
				}
				return fmt.Errorf("%d problem(s) found", len(problems))
			}

			fmt.Printf("OK: %d task(s), %d agent(s), %d experiment(s)\n",
				len(cfg.Tasks), len(cfg.Agents), len(cfg.Matrix()))
			return nil
		},
	}
}
