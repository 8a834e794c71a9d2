package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/coderunner/internal/languages"
	"github.com/itstheanurag/coderunner/internal/metrics"
	"github.com/itstheanurag/coderunner/internal/sandbox"
	"github.com/itstheanurag/coderunner/internal/workspace"
	"github.com/rs/zerolog"
)

// File is an additional source file linked into the build.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Submission is one request to compile and run a program. Zero limits mean
// "use the language or engine default".
type Submission struct {
	ID            string
	Language      string
	Source        string
	Files         []File
	Stdin         string
	CompilerFlags []string
	Args          []string
	TimeLimit     time.Duration
	MemoryLimitKb int64
}

// Limits are the engine-wide defaults and caps.
type Limits struct {
	TimeLimit        time.Duration
	MemoryLimitKb    int64
	CompileTimeLimit time.Duration
	CompileMemoryKb  int64
	MaxTimeLimit     time.Duration
	MaxMemoryLimitKb int64
	OutputLimit      int
}

type Executor struct {
	registry   *languages.Registry
	workspaces *workspace.Manager
	runner     sandbox.Runner
	limits     Limits
	logger     *zerolog.Logger
}

func NewExecutor(registry *languages.Registry, workspaces *workspace.Manager, runner sandbox.Runner, limits Limits, logger *zerolog.Logger) *Executor {
	return &Executor{
		registry:   registry,
		workspaces: workspaces,
		runner:     runner,
		limits:     limits,
		logger:     logger,
	}
}

// UnknownLanguage labels metrics of submissions whose language never
// resolved, so caller-supplied ids cannot create new series.
const UnknownLanguage = "unknown"

// Execute runs the full pipeline for sub. It always returns a result; engine
// faults are reported through Status and ErrorKind, never as a Go error.
func (e *Executor) Execute(ctx context.Context, sub Submission) (res *ExecutionResult) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	log := e.logger.With().Str("submission_id", sub.ID).Logger()
	start := time.Now()
	label := UnknownLanguage

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("execution pipeline panicked")
			lang := sub.Language
			if label != UnknownLanguage {
				lang = label
			}
			res = failure(sub, lang, ErrorKindInternal, fmt.Errorf("internal error: %v", r))
		}
		metrics.ExecutionsTotal.WithLabelValues(label, string(res.Status)).Inc()
		metrics.ExecutionDuration.WithLabelValues(label, "total").Observe(float64(time.Since(start).Milliseconds()))
		if res.ErrorKind.EngineFault() {
			metrics.EngineFailures.WithLabelValues(string(res.ErrorKind)).Inc()
		}
		log.Info().
			Str("status", string(res.Status)).
			Int64("duration_ms", res.DurationMs).
			Dur("wall", time.Since(start)).
			Msg("submission finished")
	}()

	lang, err := e.resolve(sub)
	if err != nil {
		log.Info().Err(err).Str("language", sub.Language).Msg("rejected submission")
		return failure(sub, sub.Language, ErrorKindUnsupportedLanguage, err)
	}
	label = lang.ID
	log = log.With().Str("language", lang.ID).Logger()

	ws, err := e.workspaces.Acquire()
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire workspace")
		return failure(sub, lang.ID, ErrorKindWorkspace, err)
	}
	defer func() {
		if err := e.workspaces.Release(ws); err != nil {
			log.Error().Err(err).Str("workspace", ws.ID).Msg("failed to release workspace")
			if res != nil && res.ErrorKind == "" {
				res.ErrorKind = ErrorKindWorkspace
				res.Message = err.Error()
			}
		}
	}()

	sources, err := e.prepare(ws, lang, sub)
	switch {
	case errors.Is(err, workspace.ErrInvalidName):
		log.Info().Err(err).Msg("rejected submission files")
		return failure(sub, lang.ID, ErrorKindInvalidSubmission, err)
	case err != nil:
		log.Error().Err(err).Msg("failed to materialize sources")
		return failure(sub, lang.ID, ErrorKindWorkspace, err)
	}

	vars := languages.Vars{
		Source:  sources[0],
		Sources: sources,
		Output:  languages.OutputName,
		Flags:   sub.CompilerFlags,
		Args:    sub.Args,
	}

	var compile *sandbox.Attempt
	if lang.Compiled() {
		compile = e.runner.Run(ctx, sandbox.Spec{
			Phase:         sandbox.PhaseCompile,
			Args:          languages.Expand(lang.CompileCommand, vars),
			Dir:           ws.Path,
			Image:         lang.Image,
			Env:           lang.Env,
			TimeLimit:     firstPositive(lang.CompileTimeLimit, e.limits.CompileTimeLimit),
			MemoryLimitKb: e.limits.CompileMemoryKb,
			OutputLimit:   e.limits.OutputLimit,
		})
		e.observe(lang.ID, compile)
		if !compile.Succeeded() {
			return e.finish(log, sub, lang.ID, compile, nil)
		}
	}

	run := e.runner.Run(ctx, sandbox.Spec{
		Phase:         sandbox.PhaseRun,
		Args:          languages.Expand(lang.RunCommand, vars),
		Dir:           ws.Path,
		Image:         lang.Image,
		Env:           lang.Env,
		Stdin:         sub.Stdin,
		TimeLimit:     e.runTimeLimit(lang, sub),
		MemoryLimitKb: e.runMemoryLimit(lang, sub),
		OutputLimit:   e.limits.OutputLimit,
	})
	e.observe(lang.ID, run)
	return e.finish(log, sub, lang.ID, compile, run)
}

func (e *Executor) resolve(sub Submission) (languages.Language, error) {
	if sub.Language != "" {
		return e.registry.Lookup(sub.Language)
	}
	if len(sub.Files) > 0 {
		return e.registry.DetectByExtension(sub.Files[0].Name)
	}
	return languages.Language{}, fmt.Errorf("%w: no language given", languages.ErrUnsupportedLanguage)
}

// prepare writes every source file into ws and returns the names to hand to
// the compiler, primary file first.
func (e *Executor) prepare(ws *workspace.Workspace, lang languages.Language, sub Submission) ([]string, error) {
	files := sub.Files
	primary := lang.SourceFile
	if sub.Source == "" && len(files) > 0 {
		primary, sub.Source = files[0].Name, files[0].Content
		files = files[1:]
	}
	if err := e.workspaces.Materialize(ws, primary, sub.Source); err != nil {
		return nil, err
	}

	sources := []string{primary}
	seen := map[string]bool{filepath.Clean(primary): true}
	for _, f := range files {
		name := filepath.Clean(f.Name)
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate file %q", workspace.ErrInvalidName, f.Name)
		}
		seen[name] = true
		if err := e.workspaces.Materialize(ws, f.Name, f.Content); err != nil {
			return nil, err
		}
		if filepath.Ext(name) == lang.Extension {
			sources = append(sources, name)
		}
	}
	return sources, nil
}

func (e *Executor) runTimeLimit(lang languages.Language, sub Submission) time.Duration {
	limit := firstPositive(sub.TimeLimit, lang.TimeLimit, e.limits.TimeLimit)
	if e.limits.MaxTimeLimit > 0 && limit > e.limits.MaxTimeLimit {
		limit = e.limits.MaxTimeLimit
	}
	return limit
}

func (e *Executor) runMemoryLimit(lang languages.Language, sub Submission) int64 {
	limit := firstPositive(sub.MemoryLimitKb, lang.MemoryLimitKb, e.limits.MemoryLimitKb)
	if e.limits.MaxMemoryLimitKb > 0 && limit > e.limits.MaxMemoryLimitKb {
		limit = e.limits.MaxMemoryLimitKb
	}
	return limit
}

func (e *Executor) observe(lang string, a *sandbox.Attempt) {
	metrics.ExecutionDuration.WithLabelValues(lang, string(a.Phase)).Observe(float64(a.Elapsed.Milliseconds()))
	if a.PeakMemoryKb > 0 && a.Phase == sandbox.PhaseRun {
		metrics.MemoryUsage.WithLabelValues(lang).Observe(float64(a.PeakMemoryKb))
	}
}

func (e *Executor) finish(log zerolog.Logger, sub Submission, lang string, compile, run *sandbox.Attempt) *ExecutionResult {
	res := Aggregate(sub.ID, lang, compile, run, e.limits.OutputLimit)
	switch res.ErrorKind {
	case ErrorKindInternal:
		log.Error().Str("error", res.Message).Msg("attempt failed inside the engine")
	case ErrorKindCancelled:
		log.Info().Msg("submission cancelled by caller")
	}
	return res
}

// failure builds the result of a submission that never reached the runner.
func failure(sub Submission, lang string, kind ErrorKind, err error) *ExecutionResult {
	return &ExecutionResult{
		SubmissionID: sub.ID,
		Language:     lang,
		Status:       StatusInternalError,
		ExitCode:     -1,
		ErrorKind:    kind,
		Message:      err.Error(),
	}
}

func firstPositive[T ~int64](vals ...T) T {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

