package mappers

import (
	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

func AttemptToResponse(a *models.Attempt) *models.AttemptResponse {
	return &models.AttemptResponse{
		RunID:     a.RunID,
		Status:    a.Status,
		Result:    a.Result,
		TimeMs:    a.TimeMs,
		MemoryKB:  a.MemoryKB,
		Error:     a.Error,
		ProblemID: a.ProblemID,
		UserID:    a.UserID,
	}
}

// RejectedResponse is the reply for a submission that never got a run record.
func RejectedResponse(sub *models.Submission, err error) *models.AttemptResponse {
	return &models.AttemptResponse{
		RunID:     sub.RunID,
		Status:    models.AttemptStatusFailed,
		Error:     err.Error(),
		ProblemID: sub.ProblemID,
		UserID:    sub.UserID,
	}
}
