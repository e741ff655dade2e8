package runner

import (
	"context"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
)

type Runner interface {
	// Synchronously runs one test case. Abnormal terminations, including a failed spawn,
	// are reported through RunResult.Status rather than as an error.
	Run(context.Context, *dto.RunRequest) (*dto.RunResult, error)
}
