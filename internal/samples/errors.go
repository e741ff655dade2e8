package samples

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrProblemNotFound = errors.New("problem data not found")

// DataError reports malformed or missing sample data. It is a setup failure of the
// judging task and never a verdict.
type DataError struct {
	ProblemID string
	File      string
	Line      int
	Err       error
}

func (e *DataError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("sample data %s (problem %s) line %d: %v", e.File, e.ProblemID, e.Line, e.Err)
	}
	if e.File != "" {
		return fmt.Sprintf("sample data %s (problem %s): %v", e.File, e.ProblemID, e.Err)
	}
	return fmt.Sprintf("sample data (problem %s): %v", e.ProblemID, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}
