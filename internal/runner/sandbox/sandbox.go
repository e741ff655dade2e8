// Package sandbox runs submissions inside go-sandbox containers: fresh namespaces, a tmpfs
// work dir and a per-run cgroup for memory and CPU accounting. It requires root.
package sandbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/criyle/go-sandbox/container"
	"github.com/criyle/go-sandbox/pkg/cgroup"
	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/criyle/go-sandbox/pkg/rlimit"
	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	rn "github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	containerExecutable = "/w/main"
	defaultOutputLimit  = 64 << 20
	stderrLimit         = 64 << 10
	drainTimeout        = 200 * time.Millisecond
)

var _ rn.Runner = (*SandboxRunner)(nil)

func init() {
	container.Init()
}

type SandboxRunnerConfig struct {
	ContainersPoolSize int
	MaxOutputSize      int64
}

type sandboxContainerEnv struct {
	container.Environment
	WorkDir string
}

type SandboxRunner struct {
	Config     SandboxRunnerConfig
	log        *zap.Logger
	rootCG     cgroup.Cgroup
	containers chan *sandboxContainerEnv
	created    int
}

func NewSandboxRunner(cfg SandboxRunnerConfig, log *zap.Logger) *SandboxRunner {
	if cfg.ContainersPoolSize <= 0 {
		cfg.ContainersPoolSize = 1
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultOutputLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SandboxRunner{
		Config:     cfg,
		log:        log,
		containers: make(chan *sandboxContainerEnv, cfg.ContainersPoolSize),
	}
}

// Init sets up the root cgroup and starts the container pool.
func (r *SandboxRunner) Init() error {
	if os.Getuid() != 0 {
		return errors.New("sandbox runner requires root privileges")
	}
	if cgroup.DetectType() == cgroup.TypeV2 {
		cgroup.EnableV2Nesting()
	}
	ct, err := cgroup.GetAvailableController()
	if err != nil {
		return errors.Wrap(err, "failed to detect cgroup controllers")
	}
	r.rootCG, err = cgroup.New("rankode-judge", ct)
	if err != nil {
		return errors.Wrap(err, "failed to create root cgroup")
	}
	if err := checkCgroup(r.rootCG); err != nil {
		r.rootCG.Destroy()
		r.rootCG = nil
		return err
	}
	return r.prepareContainers()
}

// checkCgroup opens one child cgroup the way execute does, so a host without cgroup
// delegation fails at startup instead of on every run.
func checkCgroup(root cgroup.Cgroup) error {
	cg, err := root.Random("check")
	if err != nil {
		return errors.Wrap(err, "failed to create child cgroup")
	}
	defer cg.Destroy()
	dir, err := cg.Open()
	if err != nil {
		return errors.Wrap(err, "failed to open child cgroup")
	}
	return dir.Close()
}

func (r *SandboxRunner) Close() {
	for i := 0; i < r.created; i++ {
		c := <-r.containers
		c.Destroy()
		os.RemoveAll(c.WorkDir)
	}
	if r.rootCG != nil {
		r.rootCG.Destroy()
	}
}

// Run copies the executable into a pooled container and runs it once.
// Container failures are returned as errors; the program's own failures are reported through Status.
func (r *SandboxRunner) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResult, error) {
	var env *sandboxContainerEnv
	select {
	case env = <-r.containers:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		r.containers <- env
	}()

	if err := env.Reset(); err != nil {
		return nil, errors.Wrap(err, "failed to reset container")
	}
	if err := installExecutable(env, req.Executable); err != nil {
		return nil, errors.Wrap(err, "failed to init files")
	}
	if err := env.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping container")
	}
	return r.execute(ctx, env, req)
}

func installExecutable(env container.Environment, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	files, err := env.Open([]container.OpenCmd{
		{Path: containerExecutable, Flag: os.O_WRONLY | os.O_CREATE | os.O_TRUNC, Perm: 0755},
	})
	if err != nil {
		return errors.Wrap(err, "failed to open files in container")
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	_, err = io.Copy(files[0], src)
	return err
}

func (r *SandboxRunner) execute(ctx context.Context, env container.Environment, req *dto.RunRequest) (*dto.RunResult, error) {
	maxOutput := req.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = r.Config.MaxOutputSize
	}

	cg, err := r.rootCG.Random("sandbox")
	if err != nil {
		return nil, errors.Wrap(err, "cgroup.Random")
	}
	defer cg.Destroy()

	if req.MemoryLimitKB > 0 {
		if err := cg.SetMemoryLimit(uint64(req.MemoryLimitKB) << 10); err != nil {
			r.log.Warn("failed to set memory limit", zap.Error(err))
		}
	}
	cgDir, err := cg.Open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cg fd")
	}
	defer cgDir.Close()

	tctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer stdinW.Close()
	defer stdinR.Close()
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer stdoutR.Close()
	defer stdoutW.Close()
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer stderrR.Close()
	defer stderrW.Close()

	var (
		stdout, stderr bytes.Buffer
		overflow       atomic.Bool
		started        atomic.Bool
		wg             sync.WaitGroup
	)
	syncFunc := func(pid int) error {
		if err := cg.AddProc(pid); err != nil {
			return err
		}
		started.Store(true)
		wg.Add(2)
		go rn.PipeWriter(stdinW, req.Input)
		go rn.PipeReader(&wg, stdoutR, &stdout, maxOutput, func() {
			overflow.Store(true)
			cancel()
		})
		go rn.PipeReader(&wg, stderrR, &stderr, stderrLimit, nil)
		return nil
	}

	seconds := uint64(req.Timeout.Truncate(time.Second) / time.Second)
	rlims := rlimit.RLimits{
		CPU:         seconds + 1,
		CPUHard:     seconds + 2,
		FileSize:    uint64(maxOutput),
		Stack:       128 << 20,
		OpenFile:    256,
		DisableCore: true,
	}

	start := time.Now()
	res := env.Execve(tctx, container.ExecveParam{
		Args:     []string{containerExecutable},
		Env:      []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		Files:    []uintptr{stdinR.Fd(), stdoutW.Fd(), stderrW.Fd()},
		RLimits:  rlims.PrepareRLimit(),
		SyncFunc: syncFunc,
		CgroupFD: cgDir.Fd(),
	})
	elapsed := time.Since(start)
	timedOut := ctx.Err() == nil && tctx.Err() == context.DeadlineExceeded

	stdoutW.Close()
	stderrW.Close()
	if started.Load() {
		drain(&wg, stdoutR, stderrR)
	}

	out := &dto.RunResult{
		Status:     res.Status,
		ExitStatus: res.ExitStatus,
		Output:     stdout.String(),
		Stderr:     stderr.String(),
		Elapsed:    elapsed,
		CPUTime:    res.Time,
		PeakMemory: res.Memory,
		Error:      res.Error,
	}
	if cpu, err := cg.CPUUsage(); err == nil {
		out.CPUTime = time.Duration(cpu)
	}
	if mem, err := cg.MemoryMaxUsage(); err == nil {
		out.PeakMemory = runner.Size(mem)
	}
	switch {
	case overflow.Load():
		out.Status = runner.StatusOutputLimitExceeded
	case timedOut:
		out.Status = runner.StatusTimeLimitExceeded
	}

	r.log.Debug("execution result",
		zap.Stringer("status", out.Status),
		zap.Int("exitStatus", out.ExitStatus),
		zap.Duration("elapsed", out.Elapsed),
		zap.Uint64("peakMemory", out.PeakMemory.Byte()),
		zap.String("error", res.Error))
	return out, nil
}

// drain waits for the readers and cuts them off if the pipes are still held open
// inside the container after the process was reaped.
func drain(wg *sync.WaitGroup, readers ...*os.File) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		for _, f := range readers {
			f.Close()
		}
		<-done
	}
}

func (r *SandboxRunner) PrepareContainer(workdir string) (container.Environment, error) {
	mb := mount.NewBuilder().
		WithBind("/bin", "bin", true).
		WithBind("/lib", "lib", true).
		WithBind("/lib64", "lib64", true).
		WithBind("/usr", "usr", true).
		WithBind("/etc/ld.so.cache", "etc/ld.so.cache", true).
		WithProc().
		WithBind("/dev/null", "dev/null", false).
		WithTmpfs("tmp", "size=128m,nr_inodes=4k").
		WithTmpfs("w", "size=32m,nr_inodes=4k").
		FilterNotExist()

	cloneFlag := unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS

	b := container.Builder{
		Root:          workdir,
		WorkDir:       "/w",
		Mounts:        mb.Mounts,
		Stderr:        os.Stderr,
		CredGenerator: newCredGen(),
		CloneFlags:    uintptr(cloneFlag),
	}
	return b.Build()
}

func (r *SandboxRunner) prepareContainers() error {
	for i := 0; i < r.Config.ContainersPoolSize; i++ {
		workDir, err := os.MkdirTemp("", "rankode-container-")
		if err != nil {
			return errors.Wrap(err, "failed to create temp dir")
		}
		c, err := r.PrepareContainer(workDir)
		if err != nil {
			os.RemoveAll(workDir)
			return errors.Wrap(err, "failed to create container")
		}
		r.containers <- &sandboxContainerEnv{
			Environment: c,
			WorkDir:     workDir,
		}
		r.created++
	}
	r.log.Info("sandbox containers ready", zap.Int("count", r.created))
	return nil
}

type credGen struct {
	cur uint32
}

func newCredGen() *credGen {
	return &credGen{cur: 10000}
}

func (c *credGen) Get() syscall.Credential {
	n := atomic.AddUint32(&c.cur, 1)
	return syscall.Credential{
		Uid: n,
		Gid: n,
	}
}
