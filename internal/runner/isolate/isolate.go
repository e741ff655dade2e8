// Package isolate runs submissions inside boxes of the isolate sandbox
// (https://github.com/ioi/isolate) driven through its command line.
package isolate

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	rn "github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/pkg/files"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultExecPath = "isolate"

	executableName     = "main"
	defaultOutputLimit = 64 << 20
	stderrLimit        = 64 << 10
	defaultProcesses   = 12
	cleanupTimeout     = 10 * time.Second
	// isolate enforces the limits itself, the guard only covers a stuck isolate.
	guardSlack = 2 * time.Second
)

var _ rn.Runner = (*IsolateRunner)(nil)

type IsolateRunnerConfig struct {
	ExecPath      string
	MaxBoxCount   int
	Processes     int
	MaxOutputSize int64
}

type IsolateRunner struct {
	cfg            IsolateRunnerConfig
	log            *zap.Logger
	availableBoxes chan int
}

func NewIsolateRunner(cfg IsolateRunnerConfig, log *zap.Logger) *IsolateRunner {
	if cfg.ExecPath == "" {
		cfg.ExecPath = DefaultExecPath
	}
	if cfg.MaxBoxCount <= 0 {
		cfg.MaxBoxCount = 1
	}
	if cfg.Processes <= 0 {
		cfg.Processes = defaultProcesses
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultOutputLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	boxes := make(chan int, cfg.MaxBoxCount)
	for i := 0; i < cfg.MaxBoxCount; i++ {
		boxes <- i
	}
	return &IsolateRunner{cfg: cfg, log: log, availableBoxes: boxes}
}

// Init checks that the isolate binary is available.
func (r *IsolateRunner) Init() error {
	path, err := exec.LookPath(r.cfg.ExecPath)
	if err != nil {
		return errors.Wrap(err, "isolate binary not found")
	}
	r.cfg.ExecPath = path
	r.log.Info("isolate runner ready", zap.String("path", path), zap.Int("boxes", r.cfg.MaxBoxCount))
	return nil
}

func (r *IsolateRunner) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResult, error) {
	maxOutput := req.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = r.cfg.MaxOutputSize
	}

	var boxID int
	select {
	case boxID = <-r.availableBoxes:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		r.availableBoxes <- boxID
	}()

	box, err := newIsolatedBox(ctx, r.cfg.ExecPath, boxID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := box.clean(); err != nil {
			r.log.Warn("failed to clean isolate box", zap.Int("box", boxID), zap.Error(err))
		}
	}()

	if err := files.CopyFile(req.Executable, filepath.Join(box.FilesDir, executableName), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to install executable")
	}

	metaFile, err := os.CreateTemp("", "boxmeta")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a meta file")
	}
	metaPath := metaFile.Name()
	metaFile.Close()
	defer os.Remove(metaPath)

	return r.execute(ctx, box, req, maxOutput, metaPath)
}

func (r *IsolateRunner) execute(ctx context.Context, box *isolatedBox, req *dto.RunRequest, maxOutput int64, metaPath string) (*dto.RunResult, error) {
	gctx, cancel := context.WithTimeout(ctx, req.Timeout+guardSlack)
	defer cancel()

	cmd := box.command(gctx, runParams{
		Timeout:       req.Timeout,
		MemoryLimitKB: req.MemoryLimitKB,
		MaxFileSizeKB: (maxOutput + 1023) >> 10,
		Processes:     r.cfg.Processes,
		MetaPath:      metaPath,
	}, "./"+executableName)
	cmd.Cmd.Stdin = strings.NewReader(req.Input)
	stdoutPipe, err := cmd.Cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stdout pipe")
	}
	stderrPipe, err := cmd.Cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stderr pipe")
	}

	start := time.Now()
	if err := cmd.Cmd.Start(); err != nil {
		return &dto.RunResult{Status: runner.StatusRunnerError, Error: err.Error()}, nil
	}

	var (
		stdout, stderr bytes.Buffer
		overflow       atomic.Bool
		wg             sync.WaitGroup
	)
	wg.Add(2)
	go rn.PipeReader(&wg, stdoutPipe, &stdout, maxOutput, func() {
		overflow.Store(true)
		cancel()
	})
	go rn.PipeReader(&wg, stderrPipe, &stderr, stderrLimit, nil)
	wg.Wait()
	waitErr := cmd.Cmd.Wait()

	res := &dto.RunResult{
		Output:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if ctx.Err() != nil {
		res.Status = runner.StatusRunnerError
		res.Error = ctx.Err().Error()
		return res, nil
	}
	if gctx.Err() == context.DeadlineExceeded && !overflow.Load() {
		res.Status = runner.StatusTimeLimitExceeded
		return res, nil
	}

	meta, err := readMeta(metaPath)
	if err != nil {
		res.Status = runner.StatusRunnerError
		res.Error = errors.Wrap(err, "failed to read isolate meta").Error()
		return res, nil
	}
	classify(res, meta, overflow.Load(), req.MemoryLimitKB)
	if waitErr != nil && res.Status == runner.StatusNormal {
		res.Status = runner.StatusRunnerError
		res.Error = waitErr.Error()
	}

	r.log.Debug("execution result",
		zap.Int("box", box.id),
		zap.Stringer("status", res.Status),
		zap.Int("exitStatus", res.ExitStatus),
		zap.Duration("cpu", res.CPUTime),
		zap.Uint64("peakMemory", res.PeakMemory.Byte()))
	return res, nil
}
