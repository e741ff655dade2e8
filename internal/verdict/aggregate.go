package verdict

import "github.com/cutekitek/rankode-judge/internal/repository/models"

// Aggregate folds outcomes, given in case order, into a JudgeResult. The first
// non-accepted case decides the verdict and its figures are reported. When every case
// is accepted the first case's figures represent the submission.
func Aggregate(outcomes []models.CaseOutcome) models.JudgeResult {
	res := models.JudgeResult{
		Overall:    models.VerdictAccepted,
		FailedCase: -1,
		Cases:      outcomes,
	}
	if len(outcomes) == 0 {
		return res
	}
	for i, o := range outcomes {
		if o.Status != models.VerdictAccepted {
			res.Overall = o.Status
			res.ElapsedMs = o.ElapsedMs
			res.MemoryKB = o.MemoryKB
			res.FailedCase = i
			return res
		}
	}
	res.ElapsedMs = outcomes[0].ElapsedMs
	res.MemoryKB = outcomes[0].MemoryKB
	return res
}

// CompilationFailed is the result of a submission that did not build. Nothing ran,
// so both figures are zero.
func CompilationFailed(diagnostics string) models.JudgeResult {
	return models.JudgeResult{
		Overall:     models.VerdictCompilationError,
		FailedCase:  -1,
		Diagnostics: diagnostics,
	}
}
