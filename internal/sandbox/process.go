package sandbox

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ProcessOptions tunes the local process backend.
type ProcessOptions struct {
	// KillGrace bounds how long Run waits for output pipes after the child
	// exits or is killed.
	KillGrace          time.Duration
	// MemoryPollInterval is the sampling period of the memory watchdog.
	MemoryPollInterval time.Duration
	// FileSizeLimit caps any single file the child writes (RLIMIT_FSIZE).
	FileSizeLimit      int64
	// PassEnv names host variables copied into every child environment.
	// RUSTUP_HOME and CARGO_HOME fall back to the usual directories under
	// the host HOME when unset, since children get the workspace as HOME.
	PassEnv            []string
}

// ProcessRunner runs children directly on the host, one process group per
// attempt.
type ProcessRunner struct {
	opts      ProcessOptions
	path      string
	toolchain []string
	logger    *zerolog.Logger
}

func NewProcessRunner(opts ProcessOptions, logger *zerolog.Logger) *ProcessRunner {
	if opts.KillGrace <= 0 {
		opts.KillGrace = 500 * time.Millisecond
	}
	if opts.MemoryPollInterval <= 0 {
		opts.MemoryPollInterval = 20 * time.Millisecond
	}
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return &ProcessRunner{
		opts:      opts,
		path:      path,
		toolchain: toolchainEnv(opts.PassEnv, os.LookupEnv),
		logger:    logger,
	}
}

func (r *ProcessRunner) Name() string {
	return "process"
}

func (r *ProcessRunner) environ(spec Spec) []string {
	env := []string{
		"PATH=" + r.path,
		"HOME=" + spec.Dir,
		"TMPDIR=" + spec.Dir,
		"LANG=C.UTF-8",
	}
	env = append(env, r.toolchain...)
	return append(env, expandEnv(spec.Env, spec.Dir)...)
}

// toolchainHomes are the per-user directories rustup and cargo use when
// their variables are unset.
var toolchainHomes = map[string]string{
	"RUSTUP_HOME": ".rustup",
	"CARGO_HOME":  ".cargo",
}

// toolchainEnv resolves names against the host environment once, at startup.
func toolchainEnv(names []string, lookup func(string) (string, bool)) []string {
	home, _ := lookup("HOME")
	var env []string
	for _, name := range names {
		v, ok := lookup(name)
		if !ok || v == "" {
			v = defaultToolchainHome(name, home)
		}
		if v != "" {
			env = append(env, name+"="+v)
		}
	}
	return env
}

func defaultToolchainHome(name, home string) string {
	sub, ok := toolchainHomes[name]
	if !ok || home == "" {
		return ""
	}
	dir := filepath.Join(home, sub)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	return dir
}
