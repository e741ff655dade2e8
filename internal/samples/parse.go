package samples

import (
	"bufio"
	"io"
	"strings"

	"github.com/cutekitek/rankode-judge/pkg/utils"
	"github.com/pkg/errors"
)

var errTruncated = errors.New("declared line count exceeds remaining lines")

// ParseBlocks decodes the line-count-prefixed block format: a line holding k followed by
// exactly k lines of content, repeated until a blank line or end of input. Content lines keep
// their line terminators. Errors are *DataError with File left empty.
func ParseBlocks(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var (
		blocks []string
		lineNo int
	)
	for {
		header, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, &DataError{Line: lineNo + 1, Err: err}
		}
		if header == "" || strings.TrimSpace(header) == "" {
			return blocks, nil
		}
		lineNo++
		count, perr := utils.ParseCount(header)
		if perr != nil {
			return nil, &DataError{Line: lineNo, Err: perr}
		}
		headerLine := lineNo

		var sb strings.Builder
		for i := 0; i < count; i++ {
			line, rerr := br.ReadString('\n')
			if rerr != nil && rerr != io.EOF {
				return nil, &DataError{Line: lineNo + 1, Err: rerr}
			}
			if line == "" {
				return nil, &DataError{Line: headerLine, Err: errTruncated}
			}
			lineNo++
			sb.WriteString(line)
		}
		blocks = append(blocks, sb.String())
	}
}
