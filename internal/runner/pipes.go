package runner

import (
	"io"
	"os"
	"strings"
	"sync"
)

const chunkSize = 1024

// PipeReader copies pipe into out until EOF or until more than maxSize bytes arrive.
// On overflow onOverflow is called once and the rest of the stream is discarded.
func PipeReader(wg *sync.WaitGroup, pipe io.Reader, out io.Writer, maxSize int64, onOverflow func()) {
	defer wg.Done()
	var copied int64
	for {
		n, err := io.CopyN(out, pipe, chunkSize)
		copied += n
		if maxSize > 0 && copied > maxSize {
			if onOverflow != nil {
				onOverflow()
			}
			io.Copy(io.Discard, pipe)
			return
		}
		if err != nil {
			return
		}
	}
}

// PipeWriter feeds in to pipe and closes it so the reader sees EOF.
func PipeWriter(pipe *os.File, in string) {
	defer pipe.Close()
	buf := make([]byte, chunkSize)
	io.CopyBuffer(pipe, strings.NewReader(in), buf)
}
