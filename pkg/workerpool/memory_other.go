//go:build !linux

package workerpool

import "fmt"

func readResidentMemory(pid int) (int64, error) {
	return 0, fmt.Errorf("workerpool: resident memory sampling not supported on this platform")
}
