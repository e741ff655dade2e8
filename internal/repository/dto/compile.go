package dto

type CompileRequest struct {
	RunID      int64
	SourcePath string
	Language   string
}

// CompileOutcome is owned by the coordinator for one judging run. WorkDir holds the
// executable and the compile log and must be removed once judging completes.
type CompileOutcome struct {
	Succeeded   bool
	Executable  string
	WorkDir     string
	Diagnostics string
}
