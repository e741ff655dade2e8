package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseCount parses a non-negative decimal integer surrounded by optional whitespace.
func ParseCount(s string) (int, error) {
	val, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid count %q", strings.TrimSpace(s))
	}
	if val < 0 {
		return 0, errors.Errorf("negative count %d", val)
	}
	return val, nil
}

// ParseSeconds parses a fractional number of seconds such as "0.125".
func ParseSeconds(s string) (time.Duration, error) {
	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", strings.TrimSpace(s))
	}
	if val < 0 {
		return 0, errors.Errorf("negative duration %v", val)
	}
	return time.Duration(val * float64(time.Second)), nil
}
