// Package compiler builds a submission into a submission-scoped executable.
package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/pkg/files"
	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	sourceBaseName  = "main"
	executableName  = "main"
	compileLogName  = "compile.log"
	defaultLogLimit = 64 << 10
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

type Config struct {
	// WorkRoot holds one directory per run.
	WorkRoot     string
	BuildTimeout time.Duration
	MaxLogSize   int64
}

type Compiler struct {
	cfg   Config
	langs Table
	log   *zap.Logger
}

func New(cfg Config, langs Table, log *zap.Logger) *Compiler {
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 10 * time.Second
	}
	if cfg.MaxLogSize <= 0 {
		cfg.MaxLogSize = defaultLogLimit
	}
	if langs == nil {
		langs = DefaultTable()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{cfg: cfg, langs: langs, log: log}
}

// RunDir is the submission-scoped directory for a run.
func (c *Compiler) RunDir(runID int64) string {
	return filepath.Join(c.cfg.WorkRoot, "run-"+strconv.FormatInt(runID, 10))
}

// Compile builds the source of req. Toolchain failures, including a hung or crashed
// compiler, are reported as an outcome with Succeeded=false. An error is returned only
// for setup problems: an unknown language, a missing source file or an unusable work dir.
// Whenever an outcome is returned its WorkDir must be removed by the caller.
func (c *Compiler) Compile(ctx context.Context, req dto.CompileRequest) (*dto.CompileOutcome, error) {
	lang, ok := c.langs.Lookup(req.Language)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedLanguage, "%q", req.Language)
	}

	workDir := c.RunDir(req.RunID)
	if err := os.RemoveAll(workDir); err != nil {
		return nil, errors.Wrap(err, "failed to clean work dir")
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create work dir")
	}

	outcome, err := c.build(ctx, lang, req, workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	return outcome, nil
}

func (c *Compiler) build(ctx context.Context, lang Language, req dto.CompileRequest, workDir string) (*dto.CompileOutcome, error) {
	src := filepath.Join(workDir, sourceBaseName+lang.Extension)
	exe := filepath.Join(workDir, executableName)
	if err := files.CopyFile(req.SourcePath, src, 0644); err != nil {
		return nil, errors.Wrap(err, "failed to stage source file")
	}

	args, err := expandCommand(lang.CompileCmd, src, exe, workDir)
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(workDir, compileLogName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create compile log")
	}
	defer logFile.Close()

	timeout := lang.BuildTimeout
	if timeout <= 0 {
		timeout = c.cfg.BuildTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := &dto.CompileOutcome{WorkDir: workDir}
	res, runErr := shell.NewCommand(tctx, args[0], args[1:]...).RunWithOutput(tctx, workDir, logFile)
	switch {
	case runErr != nil:
		fmt.Fprintf(logFile, "\n%s\n", runErr)
		c.log.Warn("compiler did not start", zap.Int64("run_id", req.RunID), zap.String("language", req.Language), zap.Error(runErr))
	case res.TimedOut:
		fmt.Fprintf(logFile, "\ncompilation timed out after %s\n", timeout)
		os.Remove(exe)
	case res.ExitCode == 0 && isRegularFile(exe):
		outcome.Succeeded = true
		outcome.Executable = exe
	}

	outcome.Diagnostics = readLimited(logPath, c.cfg.MaxLogSize)
	c.log.Debug("compile finished",
		zap.Int64("run_id", req.RunID),
		zap.String("language", req.Language),
		zap.Bool("succeeded", outcome.Succeeded))
	return outcome, nil
}

func expandCommand(tpl, src, exe, dir string) ([]string, error) {
	expanded := strings.NewReplacer("{src}", src, "{exe}", exe, "{dir}", dir).Replace(tpl)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse compile command")
	}
	if len(fields) == 0 {
		return nil, errors.New("compile command is empty")
	}
	return fields, nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func readLimited(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	data, _ := io.ReadAll(io.LimitReader(f, limit))
	return string(data)
}
