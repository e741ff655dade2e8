package runner

import (
	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
)

// MarkMemoryExceeded relabels a crash or nonzero exit as a memory limit failure when the
// measured peak reached the limit. Time and output limit verdicts are never changed.
func MarkMemoryExceeded(res *dto.RunResult, memoryLimitKB int64) {
	if memoryLimitKB <= 0 {
		return
	}
	switch res.Status {
	case runner.StatusNonzeroExitStatus, runner.StatusSignalled:
	default:
		return
	}
	if res.PeakMemory.Byte() >= uint64(memoryLimitKB)<<10 {
		res.Status = runner.StatusMemoryLimitExceeded
	}
}
