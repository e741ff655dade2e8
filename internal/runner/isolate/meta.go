package isolate

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	rn "github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/pkg/utils"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// isolate status codes written to the meta file.
const (
	statusRuntimeError = "RE"
	statusSignalled    = "SG"
	statusTimeout      = "TO"
	statusInternal     = "XX"
)

type metaData struct {
	Time      time.Duration
	WallTime  time.Duration
	CgMemKB   int
	MaxRSSKB  int
	ExitCode  int
	ExitSig   int
	Status    string
	OOMKilled bool
	Message   string
}

func (m *metaData) memoryKB() int {
	if m.CgMemKB > 0 {
		return m.CgMemKB
	}
	return m.MaxRSSKB
}

func readMeta(path string) (*metaData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMeta(f)
}

func parseMeta(r io.Reader) (*metaData, error) {
	meta := &metaData{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Errorf("invalid meta line %q", line)
		}
		var err error
		switch key {
		case "time":
			meta.Time, err = utils.ParseSeconds(val)
		case "time-wall":
			meta.WallTime, err = utils.ParseSeconds(val)
		case "cg-mem":
			meta.CgMemKB, err = utils.ParseCount(val)
		case "max-rss":
			meta.MaxRSSKB, err = utils.ParseCount(val)
		case "exitcode":
			meta.ExitCode, err = utils.ParseCount(val)
		case "exitsig":
			meta.ExitSig, err = utils.ParseCount(val)
		case "status":
			meta.Status = val
		case "cg-oom-killed":
			meta.OOMKilled = true
		case "message":
			meta.Message = val
		}
		if err != nil {
			return nil, errors.Wrapf(err, "invalid meta value for %s", key)
		}
	}
	return meta, s.Err()
}

func classify(res *dto.RunResult, meta *metaData, overflow bool, memoryLimitKB int64) {
	res.CPUTime = meta.Time
	if meta.WallTime > 0 {
		res.Elapsed = meta.WallTime
	}
	res.PeakMemory = runner.Size(meta.memoryKB()) << 10

	switch {
	case overflow:
		res.Status = runner.StatusOutputLimitExceeded
	case meta.OOMKilled:
		res.Status = runner.StatusMemoryLimitExceeded
	case meta.Status == statusTimeout:
		res.Status = runner.StatusTimeLimitExceeded
	case meta.Status == statusSignalled:
		res.ExitStatus = meta.ExitSig
		switch unix.Signal(meta.ExitSig) {
		case unix.SIGXCPU:
			res.Status = runner.StatusTimeLimitExceeded
		case unix.SIGXFSZ:
			res.Status = runner.StatusOutputLimitExceeded
		default:
			res.Status = runner.StatusSignalled
		}
	case meta.Status == statusRuntimeError:
		res.ExitStatus = meta.ExitCode
		res.Status = runner.StatusNonzeroExitStatus
	case meta.Status == statusInternal:
		res.Status = runner.StatusRunnerError
		res.Error = meta.Message
	case meta.Status == "":
		res.Status = runner.StatusNormal
	default:
		res.Status = runner.StatusRunnerError
		res.Error = "unknown isolate status " + meta.Status
	}
	rn.MarkMemoryExceeded(res, memoryLimitKB)
}
