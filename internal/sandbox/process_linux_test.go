//go:build linux

package sandbox_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/itstheanurag/coderunner/internal/sandbox"
)

func TestRunMemoryLimit(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	spec := sandbox.Spec{
		Args:          []string{"python3", "-c", "import time\nb = b'x' * (300 * 1024 * 1024)\ntime.sleep(5)\n"},
		Dir:           t.TempDir(),
		TimeLimit:     10 * time.Second,
		MemoryLimitKb: 64 * 1024,
	}

	a := newRunner().Run(context.Background(), spec)
	if a.Outcome != sandbox.OutcomeMemoryExceeded {
		t.Fatalf("outcome %s, want memory_exceeded (peak %d KB)", a.Outcome, a.PeakMemoryKb)
	}
	if a.PeakMemoryKb <= spec.MemoryLimitKb {
		t.Errorf("peak %d KB not above limit", a.PeakMemoryKb)
	}
}

func TestRunReportsPeakMemory(t *testing.T) {
	a := newRunner().Run(context.Background(), shell(t, "true"))
	if a.PeakMemoryKb <= 0 {
		t.Fatalf("peak memory not measured: %d", a.PeakMemoryKb)
	}
}

func TestRunReapsBackgroundChildren(t *testing.T) {
	spec := shell(t, "sleep 30 >/dev/null 2>&1 & echo $! > bg.pid")
	a := newRunner().Run(context.Background(), spec)
	if !a.Succeeded() {
		t.Fatalf("attempt failed: %+v", a)
	}

	raw, err := os.ReadFile(filepath.Join(spec.Dir, "bg.pid"))
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("background process %d survived the attempt", pid)
}

// alive treats zombies as dead: they hold no resources and init reaps them.
func alive(pid int) bool {
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(stat, ')')
	return i < 0 || i+2 >= len(stat) || stat[i+2] != 'Z'
}

func TestRunFileSizeLimit(t *testing.T) {
	spec := shell(t, "head -c 4194304 /dev/zero > big")
	a := newRunner().Run(context.Background(), spec)
	if a.Succeeded() {
		t.Fatal("writing past the file size limit should fail")
	}
	info, err := os.Stat(filepath.Join(spec.Dir, "big"))
	if err == nil && info.Size() > 1<<20 {
		t.Fatalf("file grew to %d bytes", info.Size())
	}
}
