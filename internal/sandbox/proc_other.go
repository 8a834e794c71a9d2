//go:build unix && !linux

package sandbox

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Without prlimit or /proc there is no way to bound a running child's memory
// from the outside; only the rusage peak is reported.
const memoryEnforced = false

func applyLimits(int, Spec, ProcessOptions) error {
	return nil
}

func maxRSSKb(ru *syscall.Rusage) int64 {
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		return int64(ru.Maxrss) / 1024
	}
	return int64(ru.Maxrss)
}

type memoryWatch struct{}

func (*memoryWatch) peak() int64 { return 0 }

func startMemoryWatch(int, int64, time.Duration, <-chan struct{}, func(), *sync.WaitGroup) *memoryWatch {
	return nil
}
