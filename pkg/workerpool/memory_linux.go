//go:build linux

package workerpool

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readResidentMemory parses /proc/<pid>/statm for the resident set size,
// the same source the monitor loop's memory check would read from on a
// real broker host.
func readResidentMemory(pid int) (int64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("workerpool: unexpected statm format for pid %d", pid)
	}
	residentPages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return residentPages * int64(os.Getpagesize()), nil
}
