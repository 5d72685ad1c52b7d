// Package agent composes incident instructions and tools and drives the
// agent runtime for a single incident.
package agent

import (
	"context"

	"github.com/jneo8/mcp-sentinel/internal/toolserver"
)

// RemoteSession is a tool-server session handle whose connection lifecycle
// the orchestrator owns. *toolserver.Session satisfies it; tests substitute
// stubs.
type RemoteSession interface {
	Name() string
	Connect(ctx context.Context) error
	Cleanup() error
}

// Spec describes the agent assembled for one incident.
type Spec struct {
	Name         string
	Instructions string
	Model        string
	Tools        []toolserver.Handle // in-process tools
	Servers      []RemoteSession     // connected remote tool servers
}

// RunOptions carries the turn budget and tracing metadata for one run.
type RunOptions struct {
	MaxTurns      int
	WorkflowName  string
	TraceMetadata map[string]string
}

// Result is the terminal output of an agent run.
type Result struct {
	FinalOutput string
	TurnCount   int
}

// Runtime executes an assembled agent until it produces a final answer or
// exhausts its turn budget. Implementations own the LLM conversation; the
// orchestrator owns everything around it.
type Runtime interface {
	Run(ctx context.Context, spec Spec, input string, opts RunOptions) (*Result, error)
}
