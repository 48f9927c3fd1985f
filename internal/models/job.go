package models

// AgentRef names an agent adapter together with the model it should use.
type AgentRef struct {
	Name  string `yaml:"name" json:"name"`
	Model string `yaml:"model" json:"model"`
}

// JobConfig represents the parsed job.yaml configuration: the experiment
// matrix plus orchestrator-level settings.
type JobConfig struct {
	Name           *string    `yaml:"name,omitempty" json:"name,omitempty"`
	TasksDir       string     `yaml:"tasks_dir" json:"tasks_dir"`
	RunsDir        string     `yaml:"runs_dir" json:"runs_dir"`
	ResultsDir     string     `yaml:"results_dir" json:"results_dir"`
	Tasks          []string   `yaml:"tasks" json:"tasks"`
	Agents         []AgentRef `yaml:"agents" json:"agents"`
	Languages      []string   `yaml:"languages,omitempty" json:"languages,omitempty"`
	ConstraintSets [][]string `yaml:"constraint_sets,omitempty" json:"constraint_sets,omitempty"`
	Repetitions    int        `yaml:"repetitions" json:"repetitions"`
	Concurrency    int        `yaml:"concurrency" json:"concurrency"`
	AppendRetries  int        `yaml:"append_retries" json:"append_retries"`
	LogLevel       string     `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// Matrix expands the cartesian product task × agent × language ×
// constraint set × repetition into experiment specs, in declaration order.
func (c JobConfig) Matrix() []ExperimentSpec {
	languages := c.Languages
	if len(languages) == 0 {
		languages = []string{"any"}
	}
	constraintSets := c.ConstraintSets
	if len(constraintSets) == 0 {
		constraintSets = [][]string{nil}
	}

	var specs []ExperimentSpec
	for _, task := range c.Tasks {
		for _, agent := range c.Agents {
			for _, lang := range languages {
				if lang == "any" {
					lang = ""
				}
				for _, constraints := range constraintSets {
					for rep := 1; rep <= c.Repetitions; rep++ {
						specs = append(specs, ExperimentSpec{
							Task:        task,
							Agent:       agent.Name,
							Model:       agent.Model,
							Language:    lang,
							Constraints: constraints,
							Repetition:  rep,
						})
					}
				}
			}
		}
	}
	return specs
}
