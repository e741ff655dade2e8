package dto

import (
	"time"

	"github.com/criyle/go-sandbox/runner"
)

type RunRequest struct {
	// Executable is an absolute path to the compiled artifact.
	Executable string
	WorkDir    string
	Input      string
	Timeout    time.Duration
	// В килобайтах, 0 отключает ограничение
	MemoryLimitKB int64
	MaxOutputSize int64
}

type RunResult struct {
	Status     runner.Status
	ExitStatus int
	Output     string
	Stderr     string
	Elapsed    time.Duration
	CPUTime    time.Duration
	PeakMemory runner.Size
	Error      string
}
