//go:build linux

package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const memoryEnforced = true

var pageSizeKb = int64(os.Getpagesize() / 1024)

// applyLimits sets kernel limits on the freshly started child. Descendants
// inherit them.
func applyLimits(pid int, spec Spec, opts ProcessOptions) error {
	var errs []error
	set := func(resource int, soft, hard uint64) {
		lim := &unix.Rlimit{Cur: soft, Max: hard}
		if err := unix.Prlimit(pid, resource, lim, nil); err != nil {
			errs = append(errs, fmt.Errorf("prlimit %d: %w", resource, err))
		}
	}

	set(unix.RLIMIT_CORE, 0, 0)
	if spec.TimeLimit > 0 {
		secs := uint64((spec.TimeLimit + time.Second - 1) / time.Second)
		set(unix.RLIMIT_CPU, secs, secs+1)
	}
	if opts.FileSizeLimit > 0 {
		n := uint64(opts.FileSizeLimit)
		set(unix.RLIMIT_FSIZE, n, n)
	}
	return errors.Join(errs...)
}

func maxRSSKb(ru *syscall.Rusage) int64 {
	return int64(ru.Maxrss)
}

type memoryWatch struct {
	max atomic.Int64
}

func (w *memoryWatch) peak() int64 {
	return w.max.Load()
}

// startMemoryWatch samples the resident memory of the whole process group
// until done is closed and calls exceeded once the limit is crossed.
func startMemoryWatch(pgid int, limitKb int64, interval time.Duration, done <-chan struct{}, exceeded func(), wg *sync.WaitGroup) *memoryWatch {
	w := &memoryWatch{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			rss := groupRSSKb(pgid)
			if rss > w.max.Load() {
				w.max.Store(rss)
			}
			if rss > limitKb {
				exceeded()
				return
			}
		}
	}()
	return w
}

// groupRSSKb sums VmRSS over every process whose pgrp is pgid.
func groupRSSKb(pgid int) int64 {
	dir, err := os.Open("/proc")
	if err != nil {
		return 0
	}
	defer dir.Close()
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return 0
	}

	var total int64
	for _, name := range names {
		if name[0] < '0' || name[0] > '9' {
			continue
		}
		stat, err := os.ReadFile("/proc/" + name + "/stat")
		if err != nil {
			continue
		}
		group, rss, ok := parseStat(stat)
		if ok && group == pgid {
			total += rss * pageSizeKb
		}
	}
	return total
}

// parseStat extracts pgrp and rss (in pages) from a /proc/<pid>/stat line.
// The command name may contain spaces and parentheses, so fields are counted
// from the last ')'.
func parseStat(stat []byte) (pgrp int, rssPages int64, ok bool) {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 > len(stat) {
		return 0, 0, false
	}
	fields := bytes.Fields(stat[i+2:])
	// fields[0] is state; pgrp is field 5 of the line, rss field 24.
	if len(fields) < 22 {
		return 0, 0, false
	}
	g, err := strconv.Atoi(string(fields[2]))
	if err != nil {
		return 0, 0, false
	}
	r, err := strconv.ParseInt(string(fields[21]), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return g, r, true
}
