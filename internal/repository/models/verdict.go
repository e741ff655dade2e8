package models

// VerdictStatus is the closed set of judging outcomes.
type VerdictStatus string

const (
	VerdictAccepted          VerdictStatus = "Accepted"
	VerdictWrongAnswer       VerdictStatus = "Wrong Answer"
	VerdictTimeLimitExceeded VerdictStatus = "Time Limit Exceeded"
	VerdictRuntimeError      VerdictStatus = "Runtime Error"
	VerdictCompilationError  VerdictStatus = "Compilation Error"
)

func (v VerdictStatus) Valid() bool {
	switch v {
	case VerdictAccepted, VerdictWrongAnswer, VerdictTimeLimitExceeded, VerdictRuntimeError, VerdictCompilationError:
		return true
	}
	return false
}

// CaseOutcome is the result of one test case, produced in case order.
type CaseOutcome struct {
	Status    VerdictStatus `json:"status"`
	ElapsedMs int64         `json:"elapsed_ms"`
	// MemoryKB echoes the problem memory limit; PeakMemoryKB is what the runner observed.
	MemoryKB     int64  `json:"memory_kb"`
	PeakMemoryKB int64  `json:"peak_memory_kb"`
	Detail       string `json:"detail,omitempty"`
}

// JudgeResult is the single summary reported for a submission.
type JudgeResult struct {
	Overall   VerdictStatus `json:"overall"`
	ElapsedMs int64         `json:"elapsed_ms"`
	MemoryKB  int64         `json:"memory_kb"`
	// FailedCase is the index of the first non-accepted case, -1 when none failed or nothing ran.
	FailedCase  int           `json:"failed_case"`
	Cases       []CaseOutcome `json:"cases,omitempty"`
	Diagnostics string        `json:"diagnostics,omitempty"`
}
