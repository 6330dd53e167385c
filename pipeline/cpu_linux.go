package pipeline

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// defaultThreads is the number of CPUs the process may run on.
func defaultThreads() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	if n := set.Count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}
