package sandbox

import (
	"context"
	"slices"
	"strings"
	"time"
)

type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRun     Phase = "run"
)

// Outcome is how an attempt ended, as observed by the runner.
type Outcome string

const (
	OutcomeExited         Outcome = "exited"
	OutcomeSignaled       Outcome = "signaled"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeMemoryExceeded Outcome = "memory_exceeded"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeInternalError  Outcome = "internal_error"
)

// Spec describes one child process. Dir is the host path of the workspace;
// Env values may reference {workdir}, which the runner replaces with the
// directory the child actually sees.
type Spec struct {
	Phase         Phase
	Args          []string
	Dir           string
	Image         string
	Env           map[string]string
	Stdin         string
	TimeLimit     time.Duration
	MemoryLimitKb int64
	OutputLimit   int
}

// Attempt is the observed result of a Spec. Runners always return one, even
// when the process never started.
type Attempt struct {
	Phase           Phase         `json:"phase"`
	Command         []string      `json:"command"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
	ExitCode        int           `json:"exit_code"`
	Signal          string        `json:"signal,omitempty"`
	Outcome         Outcome       `json:"outcome"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	CPUTime         time.Duration `json:"cpu_time_ns"`
	PeakMemoryKb    int64         `json:"peak_memory_kb"`
	Error           string        `json:"error,omitempty"`
}

// Succeeded reports a clean zero exit.
func (a *Attempt) Succeeded() bool {
	return a != nil && a.Outcome == OutcomeExited && a.ExitCode == 0
}

func (a *Attempt) Truncated() bool {
	return a != nil && (a.StdoutTruncated || a.StderrTruncated)
}

// Runner executes a single Spec. Implementations must be safe for concurrent
// use and must not leave processes behind when Run returns.
type Runner interface {
	Name() string
	Run(ctx context.Context, spec Spec) *Attempt
}

func newAttempt(spec Spec) *Attempt {
	return &Attempt{
		Phase:    spec.Phase,
		Command:  slices.Clone(spec.Args),
		ExitCode: -1,
	}
}

func (a *Attempt) fail(err error) *Attempt {
	a.Outcome = OutcomeInternalError
	a.Error = err.Error()
	return a
}

func expandEnv(env map[string]string, workdir string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+strings.ReplaceAll(v, "{workdir}", workdir))
	}
	slices.Sort(out)
	return out
}
