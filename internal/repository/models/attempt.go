package models

import "time"

type AttemptStatus string

const (
	AttemptStatusJudging AttemptStatus = "Judging"
	AttemptStatusJudged  AttemptStatus = "Judged"
	// AttemptStatusFailed marks a run that hit a setup error; Result stays empty.
	AttemptStatusFailed AttemptStatus = "Failed"
)

// Submission describes one program to judge.
type Submission struct {
	RunID     int64  `json:"run_id"`
	UserID    string `json:"user_id"`
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	// SourcePath is used as is when set, otherwise Code is written to the source root.
	SourcePath       string `json:"source_path,omitempty"`
	Code             string `json:"code,omitempty"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
	MemoryLimitKB    int64  `json:"memory_limit_kb"`
}

func (s *Submission) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitSeconds) * time.Second
}

// Attempt is the persisted record of one submission keyed by run id.
type Attempt struct {
	RunID      int64         `json:"run_id"`
	UserID     string        `json:"user_id"`
	ProblemID  string        `json:"problem_id"`
	Language   string        `json:"language"`
	CodeLength int           `json:"code_length"`
	SubmitTime time.Time     `json:"submit_time"`
	Status     AttemptStatus `json:"status"`
	Result     VerdictStatus `json:"result,omitempty"`
	TimeMs     int64         `json:"time_ms"`
	MemoryKB   int64         `json:"memory_kb"`
	Error      string        `json:"error,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	JudgedAt   *time.Time    `json:"judged_at,omitempty"`
}

// AttemptResponse is the reply published once a run is finished.
type AttemptResponse struct {
	RunID     int64         `json:"run_id"`
	Status    AttemptStatus `json:"status"`
	Result    VerdictStatus `json:"result,omitempty"`
	TimeMs    int64         `json:"time_ms"`
	MemoryKB  int64         `json:"memory_kb"`
	Error     string        `json:"error,omitempty"`
	ProblemID string        `json:"problem_id"`
	UserID    string        `json:"user_id"`
}

// ProblemStats aggregates attempts of one problem.
type ProblemStats struct {
	ProblemID string `json:"problem_id"`
	Submitted int    `json:"submit_num"`
	Accepted  int    `json:"ac_num"`
	Ratio     int    `json:"ratio"`
}
