//go:build unix

package executor_test

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itstheanurag/coderunner/internal/config"
	"github.com/itstheanurag/coderunner/internal/executor"
	"github.com/itstheanurag/coderunner/internal/languages"
	"github.com/itstheanurag/coderunner/internal/sandbox"
	"github.com/itstheanurag/coderunner/internal/workspace"
	"github.com/rs/zerolog"
)

var helloWorld = map[string]string{
	"c":          "#include <stdio.h>\nint main(void) { printf(\"Hello, World!\\n\"); return 0; }\n",
	"cpp":        "#include <iostream>\nint main() { std::cout << \"Hello, World!\" << std::endl; }\n",
	"rust":       "fn main() { println!(\"Hello, World!\"); }\n",
	"go":         "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"Hello, World!\") }\n",
	"python":     "print(\"Hello, World!\")\n",
	"php":        "<?php echo \"Hello, World!\\n\";\n",
	"lua":        "print(\"Hello, World!\")\n",
	"ruby":       "puts \"Hello, World!\"\n",
	"javascript": "console.log(\"Hello, World!\");\n",
	"java":       "public class Main { public static void main(String[] a) { System.out.println(\"Hello, World!\"); } }\n",
	"swift":      "print(\"Hello, World!\")\n",
	"kotlin":     "fun main() { println(\"Hello, World!\") }\n",
	"bash":       "echo \"Hello, World!\"\n",
}

func newRealExecutor(t *testing.T) (*executor.Executor, *workspace.Manager, *languages.Registry) {
	t.Helper()
	logger := zerolog.Nop()
	reg, err := languages.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.NewManager(filepath.Join(t.TempDir(), "ws"), &logger)
	if err != nil {
		t.Fatal(err)
	}
	runner := sandbox.NewProcessRunner(sandbox.ProcessOptions{
		KillGrace:          500 * time.Millisecond,
		MemoryPollInterval: 20 * time.Millisecond,
		FileSizeLimit:      64 << 20,
		PassEnv:            config.Defaults().Engine.PassEnv,
	}, &logger)
	limits := executor.Limits{
		TimeLimit:        10 * time.Second,
		MemoryLimitKb:    256 * 1024,
		CompileTimeLimit: 60 * time.Second,
		CompileMemoryKb:  2 * 1024 * 1024,
		MaxTimeLimit:     30 * time.Second,
		MaxMemoryLimitKb: 1024 * 1024,
		OutputLimit:      64 * 1024,
	}
	return executor.NewExecutor(reg, ws, runner, limits, &logger), ws, reg
}

// toolchainPresent reports whether every executable the profile names is on PATH.
func toolchainPresent(l languages.Language) bool {
	for _, cmd := range [][]string{l.CompileCommand, l.RunCommand} {
		if len(cmd) == 0 || strings.HasPrefix(cmd[0], "./") {
			continue
		}
		if _, err := exec.LookPath(cmd[0]); err != nil {
			return false
		}
	}
	return true
}

func TestHelloWorldEveryLanguage(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles real programs")
	}
	e, ws, reg := newRealExecutor(t)

	for _, lang := range reg.List() {
		t.Run(lang.ID, func(t *testing.T) {
			src, ok := helloWorld[lang.ID]
			if !ok {
				t.Fatalf("no hello world program for %s", lang.ID)
			}
			if !toolchainPresent(lang) {
				t.Skipf("toolchain for %s not installed", lang.ID)
			}

			res := e.Execute(context.Background(), executor.Submission{Language: lang.ID, Source: src})
			if res.Status != executor.StatusSuccess {
				t.Fatalf("status %s (%s)\nstderr: %s", res.Status, res.Message, res.Stderr)
			}
			if res.Stdout != "Hello, World!\n" {
				t.Errorf("stdout = %q", res.Stdout)
			}
			// The result's stderr joins compiler and program output; a clean
			// hello world produces neither.
			if res.Stderr != "" {
				t.Errorf("stderr = %q", res.Stderr)
			}
		})
	}
	assertNoWorkspaces(t, ws)
}

func TestCompileErrorNeverRuns(t *testing.T) {
	e, ws, reg := newRealExecutor(t)
	c, _ := reg.Lookup("c")
	if !toolchainPresent(c) {
		t.Skip("gcc not installed")
	}

	res := e.Execute(context.Background(), executor.Submission{Language: "c", Source: "int main(void) { return 0 }\n"})
	if res.Status != executor.StatusCompileError {
		t.Fatalf("status %s", res.Status)
	}
	if res.Run != nil {
		t.Fatal("run attempt present after compile error")
	}
	if !strings.Contains(res.Stderr, "error") {
		t.Errorf("compiler diagnostics missing: %q", res.Stderr)
	}
	assertNoWorkspaces(t, ws)
}

func TestInfiniteLoopTimesOut(t *testing.T) {
	e, ws, _ := newRealExecutor(t)

	start := time.Now()
	res := e.Execute(context.Background(), executor.Submission{
		Language:  "bash",
		Source:    "sleep 100 &\nwhile true; do :; done\n",
		TimeLimit: time.Second,
	})
	if res.Status != executor.StatusTimeout {
		t.Fatalf("status %s", res.Status)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("took %s for a 1s limit", elapsed)
	}
	assertNoWorkspaces(t, ws)
}

func TestFloodingOutputIsTruncated(t *testing.T) {
	e, _, _ := newRealExecutor(t)

	res := e.Execute(context.Background(), executor.Submission{
		Language: "bash",
		Source:   "head -c 1000000 /dev/zero | tr '\\0' 'a'\n",
	})
	if res.Status != executor.StatusSuccess {
		t.Fatalf("status %s (%s)", res.Status, res.Message)
	}
	if !res.Truncated || len(res.Stdout) != 64*1024 {
		t.Fatalf("truncated=%v len=%d", res.Truncated, len(res.Stdout))
	}
}

func TestConcurrentSubmissionsAreIsolated(t *testing.T) {
	e, ws, _ := newRealExecutor(t)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*executor.ExecutionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every submission writes the same file name and reads it back later.
			src := fmt.Sprintf("echo %d > shared.txt\nsleep 0.2\ncat shared.txt\nls | wc -l\n", i)
			results[i] = e.Execute(context.Background(), executor.Submission{Language: "bash", Source: src})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Status != executor.StatusSuccess {
			t.Errorf("submission %d: status %s (%s)", i, res.Status, res.Message)
			continue
		}
		fields := strings.Fields(res.Stdout)
		if len(fields) != 2 || fields[0] != fmt.Sprint(i) {
			t.Errorf("submission %d saw foreign state: %q", i, res.Stdout)
		}
		// main.sh and shared.txt only
		if len(fields) == 2 && fields[1] != "2" {
			t.Errorf("submission %d workspace holds %s files", i, fields[1])
		}
	}
	assertNoWorkspaces(t, ws)
}

func TestCancellationStopsRun(t *testing.T) {
	e, ws, _ := newRealExecutor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	res := e.Execute(ctx, executor.Submission{Language: "bash", Source: "echo started\nsleep 30\n"})
	if res.Status != executor.StatusInternalError || res.ErrorKind != executor.ErrorKindCancelled {
		t.Fatalf("status %s kind %s", res.Status, res.ErrorKind)
	}
	if res.Stdout != "started\n" {
		t.Errorf("output captured before cancellation lost: %q", res.Stdout)
	}
	assertNoWorkspaces(t, ws)
}
