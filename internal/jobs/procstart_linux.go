package jobs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// processStartTicks reads the start time of pid, in clock ticks since boot,
// from field 22 of /proc/<pid>/stat. It reports false when pid is gone.
func processStartTicks(pid int) (int64, bool) {
	if pid <= 0 {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, false
	}
	// comm may contain spaces and parentheses; fields resume after the last ')'.
	end := strings.LastIndexByte(string(data), ')')
	if end < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data[end+1:]))
	// fields[0] is field 3 (state), so starttime is at index 19.
	if len(fields) < 20 {
		return 0, false
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0, false
	}
	return ticks, true
}
