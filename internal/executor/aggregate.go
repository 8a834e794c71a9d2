package executor

import (
	"github.com/itstheanurag/coderunner/internal/sandbox"
)

type Status string

const (
	StatusSuccess        Status = "success"
	StatusCompileError   Status = "compile_error"
	StatusRuntimeError   Status = "runtime_error"
	StatusTimeout        Status = "timeout"
	StatusMemoryExceeded Status = "memory_exceeded"
	StatusInternalError  Status = "internal_error"
)

// ErrorKind refines StatusInternalError.
type ErrorKind string

const (
	ErrorKindUnsupportedLanguage ErrorKind = "unsupported_language"
	ErrorKindWorkspace           ErrorKind = "workspace_failure"
	ErrorKindInternal            ErrorKind = "internal_error"
	ErrorKindCancelled           ErrorKind = "cancelled"
	ErrorKindInvalidSubmission   ErrorKind = "invalid_submission"
)

// EngineFault reports kinds that point at a broken engine rather than a bad
// request.
func (k ErrorKind) EngineFault() bool {
	return k == ErrorKindWorkspace || k == ErrorKindInternal
}

type ExecutionResult struct {
	SubmissionID string           `json:"submission_id"`
	Language     string           `json:"language"`
	Status       Status           `json:"status"`
	Compile      *sandbox.Attempt `json:"compile,omitempty"`
	Run          *sandbox.Attempt `json:"run,omitempty"`
	Stdout       string           `json:"stdout"`
	Stderr       string           `json:"stderr"`
	Truncated    bool             `json:"truncated"`
	ExitCode     int              `json:"exit_code"`
	DurationMs   int64            `json:"duration_ms"`
	PeakMemoryKb int64            `json:"peak_memory_kb"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// Classify maps the attempts of one submission to its final status.
// Engine faults win over everything, then a failed compile, then the run's
// own outcome.
func Classify(compile, run *sandbox.Attempt) Status {
	for _, a := range []*sandbox.Attempt{compile, run} {
		if a != nil && (a.Outcome == sandbox.OutcomeInternalError || a.Outcome == sandbox.OutcomeCancelled) {
			return StatusInternalError
		}
	}
	if compile != nil && !compile.Succeeded() {
		return StatusCompileError
	}
	if run == nil {
		return StatusInternalError
	}
	switch run.Outcome {
	case sandbox.OutcomeTimeout:
		return StatusTimeout
	case sandbox.OutcomeMemoryExceeded:
		return StatusMemoryExceeded
	case sandbox.OutcomeSignaled:
		return StatusRuntimeError
	case sandbox.OutcomeExited:
		if run.ExitCode == 0 {
			return StatusSuccess
		}
		return StatusRuntimeError
	}
	return StatusInternalError
}

// Aggregate builds the caller-facing result. Stdout is the program's own
// output (the compiler's when the run never happened); stderr is compiler
// diagnostics followed by the program's stderr. Both are cut to outputLimit.
func Aggregate(id, lang string, compile, run *sandbox.Attempt, outputLimit int) *ExecutionResult {
	res := &ExecutionResult{
		SubmissionID: id,
		Language:     lang,
		Status:       Classify(compile, run),
		Compile:      compile,
		Run:          run,
		ExitCode:     -1,
	}

	last := run
	if last == nil {
		last = compile
	}

	var stdout, stderr string
	if last != nil {
		stdout = last.Stdout
		res.ExitCode = last.ExitCode
		res.PeakMemoryKb = last.PeakMemoryKb
	}
	if compile != nil {
		stderr = compile.Stderr
	}
	if run != nil {
		stderr += run.Stderr
	}

	var cutOut, cutErr bool
	res.Stdout, cutOut = sandbox.LimitString(stdout, outputLimit)
	res.Stderr, cutErr = sandbox.LimitString(stderr, outputLimit)
	res.Truncated = cutOut || cutErr || compile.Truncated() || run.Truncated()

	for _, a := range []*sandbox.Attempt{compile, run} {
		if a != nil {
			res.DurationMs += a.Elapsed.Milliseconds()
		}
	}

	if res.Status == StatusInternalError {
		res.ErrorKind = ErrorKindInternal
		for _, a := range []*sandbox.Attempt{compile, run} {
			if a == nil {
				continue
			}
			switch a.Outcome {
			case sandbox.OutcomeCancelled:
				res.ErrorKind = ErrorKindCancelled
				res.Message = "execution cancelled"
			case sandbox.OutcomeInternalError:
				res.ErrorKind = ErrorKindInternal
				res.Message = a.Error
			}
		}
		if res.Message == "" {
			res.Message = "no run attempt recorded"
		}
	}
	return res
}
