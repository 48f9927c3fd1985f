package agent

import (
	"fmt"
	"strings"
)

// Brief is the material the agent gets: the task specification plus the
// service contract the harness will hold it to.
type Brief struct {
	Spec        string
	Language    string
	Constraints []string
}

const contract = `Your deliverable is an HTTP service. It must:
- Listen on the port given by the PORT environment variable
- Expose GET /healthz that returns 200 once the service is ready
- Be startable with a single command: ./run.sh
- Treat the DATA_DIR environment variable, if it needs persistence, as its writable data directory

The service will be started by an automated harness and validated with a
black-box test suite; nothing outside the HTTP interface is inspected.`

// Compose builds the full prompt written into the workspace before launch.
func (b Brief) Compose() string {
	var sb strings.Builder

	sb.WriteString("You are implementing a network service from a specification, as fast as possible without sacrificing correctness.\n")
	if b.Language != "" {
		fmt.Fprintf(&sb, "You must implement the service in %s.\n", b.Language)
	}
	for _, c := range b.Constraints {
		fmt.Fprintf(&sb, "Constraint: %s\n", c)
	}

	sb.WriteString("\n## Contract Requirements\n\n")
	sb.WriteString(contract)

	sb.WriteString("\n\n## Specification\n\n")
	sb.WriteString(b.Spec)

	sb.WriteString(`

## Instructions

Implement the service according to the specification above. Create all
necessary files and a run.sh script that starts the service. A copy of the
test suite is available under _tests/, runnable with ./run_tests.sh while
your service is up. When you are done, the harness will verify your
implementation.
`)
	return sb.String()
}
