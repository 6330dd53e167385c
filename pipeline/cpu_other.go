//go:build !linux

package pipeline

import "runtime"

func defaultThreads() int { return runtime.NumCPU() }
