// Package process runs a compiled submission as a plain child process: fork/exec with
// resource limits, a wall-clock deadline enforced by SIGKILL, and rusage accounting.
// It needs no privileges, unlike the container runner.
package process

import (
	"bytes"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/criyle/go-sandbox/pkg/forkexec"
	"github.com/criyle/go-sandbox/pkg/rlimit"
	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	rn "github.com/cutekitek/rankode-judge/internal/runner"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultOutputLimit = 64 << 20
	stderrLimit        = 64 << 10
	// drainTimeout bounds how long output is collected after the process was reaped,
	// in case a leftover child still holds the pipes.
	drainTimeout = 200 * time.Millisecond
)

var _ rn.Runner = (*Runner)(nil)

var DefaultEnv = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}

type Config struct {
	Env           []string
	MaxOutputSize int64
}

type Runner struct {
	cfg Config
	log *zap.Logger
}

func NewRunner(cfg Config, log *zap.Logger) *Runner {
	if cfg.Env == nil {
		cfg.Env = DefaultEnv
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultOutputLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: log}
}

type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipes, error) {
	p := &pipes{}
	var err error
	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	return p, nil
}

func (p *pipes) closeChildEnds() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

func (p *pipes) closeAll() {
	closeFiles(p.stdinR, p.stdinW, p.stdoutR, p.stdoutW, p.stderrR, p.stderrW)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

func (r *Runner) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResult, error) {
	maxOutput := req.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = r.cfg.MaxOutputSize
	}

	p, err := openPipes()
	if err != nil {
		return &dto.RunResult{Status: runner.StatusRunnerError, Error: err.Error()}, nil
	}
	defer p.closeAll()

	seconds := uint64(req.Timeout.Truncate(time.Second) / time.Second)
	rlims := rlimit.RLimits{
		CPU:         seconds + 1,
		CPUHard:     seconds + 2,
		FileSize:    uint64(maxOutput),
		DisableCore: true,
	}
	if req.MemoryLimitKB > 0 {
		rlims.Data = uint64(req.MemoryLimitKB) << 10
	}

	ch := &forkexec.Runner{
		Args:    []string{req.Executable},
		Env:     r.cfg.Env,
		Files:   []uintptr{p.stdinR.Fd(), p.stdoutW.Fd(), p.stderrW.Fd()},
		WorkDir: req.WorkDir,
		RLimits: rlims.PrepareRLimit(),
	}

	tctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	pid, err := ch.Start()
	p.closeChildEnds()
	if err != nil {
		r.log.Debug("failed to start process", zap.String("executable", req.Executable), zap.Error(err))
		return &dto.RunResult{Status: runner.StatusRunnerError, Error: err.Error(), Elapsed: time.Since(start)}, nil
	}

	var (
		stdout, stderr bytes.Buffer
		overflow       atomic.Bool
		wg             sync.WaitGroup
	)
	wg.Add(2)
	go rn.PipeReader(&wg, p.stdoutR, &stdout, maxOutput, func() {
		overflow.Store(true)
		cancel()
	})
	go rn.PipeReader(&wg, p.stderrR, &stderr, stderrLimit, nil)
	go rn.PipeWriter(p.stdinW, req.Input)

	reaped := make(chan struct{})
	go func() {
		select {
		case <-tctx.Done():
			unix.Kill(pid, unix.SIGKILL)
		case <-reaped:
		}
	}()

	ws, ru, werr := wait(pid)
	elapsed := time.Since(start)
	close(reaped)
	timedOut := ctx.Err() == nil && tctx.Err() == context.DeadlineExceeded

	drain(&wg, p)

	res := &dto.RunResult{
		Output:     stdout.String(),
		Stderr:     stderr.String(),
		Elapsed:    elapsed,
		CPUTime:    time.Duration(ru.Utime.Nano() + ru.Stime.Nano()),
		PeakMemory: runner.Size(ru.Maxrss) << 10,
	}
	if werr != nil {
		res.Status = runner.StatusRunnerError
		res.Error = werr.Error()
		return res, nil
	}
	classify(res, ws, timedOut, overflow.Load(), req.MemoryLimitKB)
	if res.Status == runner.StatusNormal && ctx.Err() != nil {
		res.Status = runner.StatusRunnerError
		res.Error = ctx.Err().Error()
	}

	r.log.Debug("execution result",
		zap.Stringer("status", res.Status),
		zap.Int("exitStatus", res.ExitStatus),
		zap.Duration("elapsed", res.Elapsed),
		zap.Uint64("peakMemory", res.PeakMemory.Byte()))
	return res, nil
}

func wait(pid int) (unix.WaitStatus, unix.Rusage, error) {
	var (
		ws unix.WaitStatus
		ru unix.Rusage
	)
	for {
		_, err := unix.Wait4(pid, &ws, 0, &ru)
		if err == unix.EINTR {
			continue
		}
		return ws, ru, err
	}
}

func classify(res *dto.RunResult, ws unix.WaitStatus, timedOut, overflow bool, memoryLimitKB int64) {
	switch {
	case overflow:
		res.Status = runner.StatusOutputLimitExceeded
	case timedOut:
		res.Status = runner.StatusTimeLimitExceeded
	case ws.Exited():
		res.ExitStatus = ws.ExitStatus()
		if res.ExitStatus != 0 {
			res.Status = runner.StatusNonzeroExitStatus
		} else {
			res.Status = runner.StatusNormal
		}
	case ws.Signaled():
		sig := ws.Signal()
		res.ExitStatus = int(sig)
		switch sig {
		case unix.SIGXCPU:
			res.Status = runner.StatusTimeLimitExceeded
		case unix.SIGXFSZ:
			res.Status = runner.StatusOutputLimitExceeded
		default:
			res.Status = runner.StatusSignalled
		}
	default:
		res.Status = runner.StatusRunnerError
	}
	rn.MarkMemoryExceeded(res, memoryLimitKB)
}

// drain waits for the readers, closing the parent ends of the pipes if output keeps
// flowing from a process that outlived the one we waited for.
func drain(wg *sync.WaitGroup, p *pipes) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		closeFiles(p.stdoutR, p.stderrR)
		<-done
	}
	p.stdinW.Close()
}
