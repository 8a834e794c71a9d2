//go:build unix

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// groupKiller SIGKILLs a whole process group and remembers the first reason.
type groupKiller struct {
	pgid   int
	mu     sync.Mutex
	reason Outcome
}

func (k *groupKiller) kill(reason Outcome) {
	k.mu.Lock()
	if k.reason == "" {
		k.reason = reason
	}
	k.mu.Unlock()
	_ = unix.Kill(-k.pgid, unix.SIGKILL)
}

func (k *groupKiller) why() Outcome {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reason
}

// reap kills whatever is left of the group once the leader is gone.
func (k *groupKiller) reap() {
	_ = unix.Kill(-k.pgid, unix.SIGKILL)
}

func (r *ProcessRunner) Run(ctx context.Context, spec Spec) *Attempt {
	a := newAttempt(spec)
	if len(spec.Args) == 0 {
		return a.fail(errors.New("empty command"))
	}
	if err := ctx.Err(); err != nil {
		a.Outcome = OutcomeCancelled
		a.Error = err.Error()
		return a
	}

	stdout := newCappedBuffer(spec.OutputLimit)
	stderr := newCappedBuffer(spec.OutputLimit)

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = r.environ(spec)
	cmd.Stdin = strings.NewReader(spec.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = r.opts.KillGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		a.Elapsed = time.Since(start)
		return a.fail(fmt.Errorf("start %s: %w", spec.Args[0], err))
	}

	k := &groupKiller{pgid: cmd.Process.Pid}
	if err := applyLimits(cmd.Process.Pid, spec, r.opts); err != nil {
		r.logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("failed to apply resource limits")
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	var watch *memoryWatch
	if spec.MemoryLimitKb > 0 {
		watch = startMemoryWatch(k.pgid, spec.MemoryLimitKb, r.opts.MemoryPollInterval, done, func() {
			k.kill(OutcomeMemoryExceeded)
		}, &wg)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			k.kill(OutcomeCancelled)
		case <-done:
		}
	}()

	var timer *time.Timer
	if spec.TimeLimit > 0 {
		timer = time.AfterFunc(spec.TimeLimit, func() { k.kill(OutcomeTimeout) })
	}

	waitErr := cmd.Wait()
	a.Elapsed = time.Since(start)
	if timer != nil {
		timer.Stop()
	}
	close(done)
	wg.Wait()
	k.reap()

	a.Stdout = stdout.String()
	a.Stderr = stderr.String()
	a.StdoutTruncated = stdout.Truncated()
	a.StderrTruncated = stderr.Truncated()

	state := cmd.ProcessState
	if state == nil {
		return a.fail(fmt.Errorf("wait %s: %w", spec.Args[0], waitErr))
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Usually ErrWaitDelay: a descendant held the pipes open past the grace.
		r.logger.Debug().Err(waitErr).Str("command", spec.Args[0]).Msg("child i/o did not finish cleanly")
	}

	a.CPUTime = state.UserTime() + state.SystemTime()
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		a.PeakMemoryKb = maxRSSKb(ru)
	}
	if watch != nil {
		a.PeakMemoryKb = max(a.PeakMemoryKb, watch.peak())
	}

	status, _ := state.Sys().(syscall.WaitStatus)
	signaled := status.Signaled()
	if signaled {
		a.Signal = unix.SignalName(status.Signal())
		a.ExitCode = 128 + int(status.Signal())
	} else {
		a.ExitCode = status.ExitStatus()
	}

	a.Outcome = classify(k.why(), signaled, status.Signal(), a, spec)
	return a
}

func classify(reason Outcome, signaled bool, sig syscall.Signal, a *Attempt, spec Spec) Outcome {
	switch {
	case (reason == OutcomeTimeout || reason == OutcomeCancelled) && !signaled:
		// The leader exited on its own; the kill only hit descendants still
		// holding the output pipes.
		return OutcomeExited
	case reason != "":
		return reason
	case memoryEnforced && spec.MemoryLimitKb > 0 && a.PeakMemoryKb > spec.MemoryLimitKb:
		return OutcomeMemoryExceeded
	case signaled && sig == syscall.SIGXCPU:
		return OutcomeTimeout
	case signaled && sig == syscall.SIGKILL && spec.TimeLimit > 0 && a.CPUTime >= spec.TimeLimit:
		// hard RLIMIT_CPU
		return OutcomeTimeout
	case signaled:
		return OutcomeSignaled
	default:
		return OutcomeExited
	}
}
