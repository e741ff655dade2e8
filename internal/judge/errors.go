package judge

import (
	"fmt"

	"github.com/pkg/errors"
)

type Stage string

const (
	StageCompile Stage = "compile"
	StageSamples Stage = "samples"
	StageRun     Stage = "run"
)

// SetupError ends a judging task without a verdict: unknown language, missing or
// malformed sample data, or an execution backend that could not run a case.
type SetupError struct {
	Stage Stage
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
