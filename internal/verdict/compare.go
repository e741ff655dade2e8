// Package verdict compares program output against expected output and folds per-case
// outcomes into the single result reported for a submission.
package verdict

import (
	"strings"
	"unicode"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

// Compare splits both texts on '\n' and right-trims every line. The resulting line
// sequences must match exactly, line count included.
func Compare(actual, expected string) models.VerdictStatus {
	if equalLines(normalize(actual), normalize(expected)) {
		return models.VerdictAccepted
	}
	return models.VerdictWrongAnswer
}

func normalize(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return lines
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
