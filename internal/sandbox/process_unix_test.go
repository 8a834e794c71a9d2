//go:build unix

package sandbox_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/itstheanurag/coderunner/internal/sandbox"
	"github.com/rs/zerolog"
)

func newRunner() *sandbox.ProcessRunner {
	return newRunnerWithGrace(200 * time.Millisecond)
}

func newRunnerWithGrace(grace time.Duration) *sandbox.ProcessRunner {
	logger := zerolog.Nop()
	return sandbox.NewProcessRunner(sandbox.ProcessOptions{
		KillGrace:          grace,
		MemoryPollInterval: 10 * time.Millisecond,
		FileSizeLimit:      1 << 20,
		PassEnv:            []string{"RUSTUP_HOME", "CARGO_HOME", "JAVA_HOME", "GOROOT"},
	}, &logger)
}

func shell(t *testing.T, script string) sandbox.Spec {
	return sandbox.Spec{
		Phase:       sandbox.PhaseRun,
		Args:        []string{"sh", "-c", script},
		Dir:         t.TempDir(),
		TimeLimit:   5 * time.Second,
		OutputLimit: 64 * 1024,
	}
}

func TestRunCapturesStreams(t *testing.T) {
	a := newRunner().Run(context.Background(), shell(t, "echo hello; echo oops >&2"))

	if a.Outcome != sandbox.OutcomeExited || a.ExitCode != 0 {
		t.Fatalf("unexpected outcome %s exit %d (%s)", a.Outcome, a.ExitCode, a.Error)
	}
	if a.Stdout != "hello\n" {
		t.Errorf("stdout = %q", a.Stdout)
	}
	if a.Stderr != "oops\n" {
		t.Errorf("stderr = %q", a.Stderr)
	}
	if !a.Succeeded() {
		t.Error("Succeeded() = false")
	}
	if a.Phase != sandbox.PhaseRun || a.Command[0] != "sh" {
		t.Errorf("attempt metadata not recorded: %+v", a)
	}
}

func TestRunFeedsStdinAndCloses(t *testing.T) {
	spec := shell(t, "cat")
	spec.Stdin = "line one\nline two\n"
	a := newRunner().Run(context.Background(), spec)
	if a.Stdout != spec.Stdin {
		t.Fatalf("stdout = %q, want %q", a.Stdout, spec.Stdin)
	}

	// Empty stdin must be an immediate EOF, not a hang.
	spec = shell(t, "cat; echo done")
	spec.TimeLimit = 2 * time.Second
	a = newRunner().Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeExited || a.Stdout != "done\n" {
		t.Fatalf("outcome %s stdout %q", a.Outcome, a.Stdout)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	a := newRunner().Run(context.Background(), shell(t, "exit 3"))
	if a.Outcome != sandbox.OutcomeExited || a.ExitCode != 3 {
		t.Fatalf("outcome %s exit %d", a.Outcome, a.ExitCode)
	}
	if a.Succeeded() {
		t.Error("nonzero exit reported as success")
	}
}

func TestRunSignaled(t *testing.T) {
	a := newRunner().Run(context.Background(), shell(t, "kill -SEGV $$"))
	if a.Outcome != sandbox.OutcomeSignaled {
		t.Fatalf("outcome %s, want signaled", a.Outcome)
	}
	if a.Signal != "SIGSEGV" {
		t.Errorf("signal = %q", a.Signal)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	// The background sleep keeps the output pipe open; only a group kill
	// lets Run return promptly.
	spec := shell(t, "sleep 30 & sleep 30")
	spec.TimeLimit = 300 * time.Millisecond

	a := newRunner().Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeTimeout {
		t.Fatalf("outcome %s, want timeout", a.Outcome)
	}
	if a.Elapsed > 2*time.Second {
		t.Fatalf("run took %s after a 300ms limit", a.Elapsed)
	}
}

func TestRunExitBeforeDeadlineIsNotTimeout(t *testing.T) {
	// The leader exits at once, but the background sleep holds stdout until
	// the deadline kill closes it.
	spec := shell(t, "sleep 5 & echo early")
	spec.TimeLimit = 300 * time.Millisecond

	a := newRunnerWithGrace(3*time.Second).Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeExited || a.ExitCode != 0 {
		t.Fatalf("outcome %s exit %d, want exited 0", a.Outcome, a.ExitCode)
	}
	if a.Stdout != "early\n" {
		t.Errorf("stdout = %q", a.Stdout)
	}
}

func TestRunBusyLoopTimesOut(t *testing.T) {
	spec := shell(t, "while :; do :; done")
	spec.TimeLimit = 500 * time.Millisecond

	start := time.Now()
	a := newRunner().Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeTimeout {
		t.Fatalf("outcome %s, want timeout", a.Outcome)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("busy loop not stopped in time: %s", time.Since(start))
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	a := newRunner().Run(ctx, shell(t, "sleep 30"))
	if a.Outcome != sandbox.OutcomeCancelled {
		t.Fatalf("outcome %s, want cancelled", a.Outcome)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	spec := shell(t, "i=0; while [ $i -lt 2000 ]; do echo 0123456789; i=$((i+1)); done")
	spec.OutputLimit = 1000

	a := newRunner().Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeExited {
		t.Fatalf("outcome %s (%s)", a.Outcome, a.Error)
	}
	if len(a.Stdout) != 1000 {
		t.Errorf("captured %d bytes, want 1000", len(a.Stdout))
	}
	if !a.StdoutTruncated || a.StderrTruncated {
		t.Errorf("truncation flags: stdout=%v stderr=%v", a.StdoutTruncated, a.StderrTruncated)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	spec := shell(t, "")
	spec.Args = []string{"coderunner-no-such-binary"}

	a := newRunner().Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeInternalError || a.Error == "" {
		t.Fatalf("outcome %s error %q", a.Outcome, a.Error)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	a := newRunner().Run(context.Background(), sandbox.Spec{Dir: t.TempDir()})
	if a.Outcome != sandbox.OutcomeInternalError {
		t.Fatalf("outcome %s", a.Outcome)
	}
}

func TestRunEnvironment(t *testing.T) {
	spec := shell(t, `echo "$HOME|$CACHE|$SECRET_FROM_PARENT"; pwd`)
	spec.Env = map[string]string{"CACHE": "{workdir}/cache"}
	t.Setenv("SECRET_FROM_PARENT", "leak")

	a := newRunner().Run(context.Background(), spec)
	lines := strings.Split(strings.TrimSpace(a.Stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("stdout = %q", a.Stdout)
	}
	want := spec.Dir + "|" + spec.Dir + "/cache|"
	if lines[0] != want {
		t.Errorf("env line = %q, want %q", lines[0], want)
	}
	if !strings.HasSuffix(lines[1], strings.TrimPrefix(spec.Dir, "/private")) {
		t.Errorf("cwd = %q, want %q", lines[1], spec.Dir)
	}
}

func TestRunRelativeExecutable(t *testing.T) {
	dir := t.TempDir()
	prep := shell(t, "printf '#!/bin/sh\\necho from script\\n' > prog && chmod +x prog")
	prep.Dir = dir
	if a := newRunner().Run(context.Background(), prep); !a.Succeeded() {
		t.Fatalf("prepare: %+v", a)
	}

	a := newRunner().Run(context.Background(), sandbox.Spec{
		Args:      []string{"./prog"},
		Dir:       dir,
		TimeLimit: 2 * time.Second,
	})
	if a.Stdout != "from script\n" {
		t.Fatalf("stdout = %q (%s)", a.Stdout, a.Error)
	}
}

func TestRunRustToolchainVisible(t *testing.T) {
	if _, err := exec.LookPath("rustc"); err != nil {
		t.Skip("rustc not installed")
	}
	a := newRunner().Run(context.Background(), sandbox.Spec{
		Args:        []string{"rustc", "--version"},
		Dir:         t.TempDir(),
		TimeLimit:   30 * time.Second,
		OutputLimit: 4096,
	})
	if a.Outcome != sandbox.OutcomeExited || a.ExitCode != 0 {
		t.Fatalf("outcome %s exit %d stderr %q", a.Outcome, a.ExitCode, a.Stderr)
	}
	if !strings.HasPrefix(a.Stdout, "rustc ") {
		t.Errorf("stdout = %q", a.Stdout)
	}
}
