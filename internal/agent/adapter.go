// Package agent invokes coding-agent CLIs against a workspace.
package agent

import (
	"fmt"
	"sort"
)

// promptRef is what the agent is told on its command line; the full brief is
// written to a file in the workspace first.
const promptRef = "Read .speedway_prompt.md and implement the service exactly as specified. Create all necessary files including run.sh."

// PromptFileName is where the composed brief is written inside the workspace.
const PromptFileName = ".speedway_prompt.md"

// Adapter renders the CLI invocation for one agent.
type Adapter interface {
	Name() string
	// Command returns the binary and arguments for a non-interactive run
	// with the given model.
	Command(model string) (path string, args []string)
}

type claudeCode struct{}

func (claudeCode) Name() string { return "claude-code" }

func (claudeCode) Command(model string) (string, []string) {
	return "claude", []string{
		"-p", promptRef,
		"--dangerously-skip-permissions",
		"--model", model,
	}
}

type codexCLI struct{}

func (codexCLI) Name() string { return "codex" }

func (codexCLI) Command(model string) (string, []string) {
	return "codex", []string{
		"exec",
		"--dangerously-bypass-approvals-and-sandbox",
		"--skip-git-repo-check",
		"--model", model,
		promptRef,
	}
}

type amp struct{}

func (amp) Name() string { return "amp" }

func (amp) Command(model string) (string, []string) {
	return "amp", []string{
		"-x", promptRef,
		"--dangerously-allow-all",
		"--mode", model,
	}
}

// Registry resolves agent names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns a registry with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{claudeCode{}, codexCLI{}, amp{}} {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s (available: %v)", name, r.Names())
	}
	return a, nil
}

// Names lists the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
