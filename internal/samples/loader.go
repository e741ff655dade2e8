// Package samples loads a problem's fixed test data: two files, <id>_input.txt and
// <id>_output.txt, each a sequence of line-count-prefixed blocks.
package samples

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

// Source opens a named sample file. Implementations return an error wrapping
// ErrProblemNotFound when the file does not exist.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type DirSource struct {
	Root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (s *DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Root, filepath.Base(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrProblemNotFound, name)
		}
		return nil, err
	}
	return f, nil
}

type Loader struct {
	src Source
}

func NewLoader(src Source) *Loader {
	return &Loader{src: src}
}

func InputFileName(problemID string) string {
	return problemID + "_input.txt"
}

func OutputFileName(problemID string) string {
	return problemID + "_output.txt"
}

// Load returns the ordered test cases of a problem. Any failure is a *DataError.
func (l *Loader) Load(ctx context.Context, problemID string) ([]models.TestCase, error) {
	inputs, err := l.readBlocks(ctx, problemID, InputFileName(problemID))
	if err != nil {
		return nil, err
	}
	outputs, err := l.readBlocks(ctx, problemID, OutputFileName(problemID))
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(outputs) {
		return nil, &DataError{
			ProblemID: problemID,
			Err:       errors.Errorf("%d inputs but %d expected outputs", len(inputs), len(outputs)),
		}
	}
	if len(inputs) == 0 {
		return nil, &DataError{ProblemID: problemID, Err: errors.New("no test cases")}
	}

	cases := make([]models.TestCase, len(inputs))
	for i := range inputs {
		cases[i] = models.TestCase{Order: i, InputData: inputs[i], ExpectedOutput: outputs[i]}
	}
	return cases, nil
}

func (l *Loader) readBlocks(ctx context.Context, problemID, name string) ([]string, error) {
	f, err := l.src.Open(ctx, name)
	if err != nil {
		return nil, &DataError{ProblemID: problemID, File: name, Err: err}
	}
	defer f.Close()

	blocks, err := ParseBlocks(f)
	if err != nil {
		var de *DataError
		if errors.As(err, &de) {
			de.ProblemID = problemID
			de.File = name
			return nil, de
		}
		return nil, &DataError{ProblemID: problemID, File: name, Err: err}
	}
	return blocks, nil
}
