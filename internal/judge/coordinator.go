// Package judge drives one submission through compile, per-case execution and
// comparison, and publishes the aggregated result to the attempt record.
package judge

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	rn "github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/verdict"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxDetailSize = 1024

type Compiler interface {
	Compile(ctx context.Context, req dto.CompileRequest) (*dto.CompileOutcome, error)
}

type SampleLoader interface {
	Load(ctx context.Context, problemID string) ([]models.TestCase, error)
}

// Recorder persists the state of a run. Start fails for a run that is no longer Judging.
type Recorder interface {
	Start(runID int64) (*models.Attempt, error)
	Complete(runID int64, res models.JudgeResult) (*models.Attempt, error)
	Fail(runID int64, reason string) (*models.Attempt, error)
}

type Config struct {
	MaxOutputSize int64
}

type Coordinator struct {
	cfg      Config
	compiler Compiler
	samples  SampleLoader
	runner   rn.Runner
	recorder Recorder
	log      *zap.Logger
}

func NewCoordinator(cfg Config, compiler Compiler, samples SampleLoader, runner rn.Runner, recorder Recorder, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		compiler: compiler,
		samples:  samples,
		runner:   runner,
		recorder: recorder,
		log:      log,
	}
}

// Judge compiles the submission and runs its cases in order, stopping at the first
// case that is not accepted. Every verdict, compilation errors included, is a result.
// The returned error is always a *SetupError. The compiled artifact is removed before
// Judge returns.
func (c *Coordinator) Judge(ctx context.Context, sub *models.Submission) (*models.JudgeResult, error) {
	log := c.log.With(zap.Int64("run_id", sub.RunID), zap.String("problem_id", sub.ProblemID))

	outcome, err := c.compiler.Compile(ctx, dto.CompileRequest{
		RunID:      sub.RunID,
		SourcePath: sub.SourcePath,
		Language:   sub.Language,
	})
	if err != nil {
		return nil, &SetupError{Stage: StageCompile, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(outcome.WorkDir); err != nil {
			log.Warn("failed to remove work dir", zap.String("dir", outcome.WorkDir), zap.Error(err))
		}
	}()

	if ctx.Err() != nil {
		return nil, &SetupError{Stage: StageCompile, Err: ctx.Err()}
	}
	if !outcome.Succeeded {
		log.Info("compilation failed")
		res := verdict.CompilationFailed(outcome.Diagnostics)
		return &res, nil
	}

	cases, err := c.samples.Load(ctx, sub.ProblemID)
	if err != nil {
		return nil, &SetupError{Stage: StageSamples, Err: err}
	}

	outcomes := make([]models.CaseOutcome, 0, len(cases))
	for i, tc := range cases {
		res, err := c.runner.Run(ctx, &dto.RunRequest{
			Executable:    outcome.Executable,
			WorkDir:       outcome.WorkDir,
			Input:         tc.InputData,
			Timeout:       sub.TimeLimit(),
			MemoryLimitKB: sub.MemoryLimitKB,
			MaxOutputSize: c.cfg.MaxOutputSize,
		})
		if err != nil {
			return nil, &SetupError{Stage: StageRun, Err: errors.Wrapf(err, "case %d", i)}
		}
		if ctx.Err() != nil {
			return nil, &SetupError{Stage: StageRun, Err: ctx.Err()}
		}

		co := caseOutcome(res, tc, sub.MemoryLimitKB)
		outcomes = append(outcomes, co)
		log.Debug("case finished",
			zap.Int("case", i),
			zap.String("status", string(co.Status)),
			zap.Int64("elapsed_ms", co.ElapsedMs))
		if co.Status != models.VerdictAccepted {
			break
		}
	}

	res := verdict.Aggregate(outcomes)
	log.Info("judged", zap.String("status", string(res.Overall)), zap.Int("failed_case", res.FailedCase))
	return &res, nil
}

// caseOutcome classifies one execution. The reported memory is the problem limit;
// the measured peak is kept beside it.
func caseOutcome(res *dto.RunResult, tc models.TestCase, memoryLimitKB int64) models.CaseOutcome {
	co := models.CaseOutcome{
		ElapsedMs:    res.Elapsed.Milliseconds(),
		MemoryKB:     memoryLimitKB,
		PeakMemoryKB: int64(res.PeakMemory.Byte() >> 10),
	}
	switch res.Status {
	case runner.StatusNormal:
		co.Status = verdict.Compare(res.Output, tc.ExpectedOutput)
	case runner.StatusTimeLimitExceeded:
		co.Status = models.VerdictTimeLimitExceeded
	default:
		co.Status = models.VerdictRuntimeError
		co.Detail = runtimeDetail(res)
	}
	return co
}

func runtimeDetail(res *dto.RunResult) string {
	detail := res.Status.String()
	if res.Error != "" {
		detail += ": " + res.Error
	} else if res.Stderr != "" {
		detail += ": " + res.Stderr
	}
	return truncate(detail, maxDetailSize)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Run marks the run started, judges the submission and records the outcome. A setup error marks the record
// failed. A cancelled context leaves the record untouched so stale-run reconciliation
// can settle it later.
func (c *Coordinator) Run(ctx context.Context, sub *models.Submission) (*models.Attempt, error) {
	if _, err := c.recorder.Start(sub.RunID); err != nil {
		return nil, errors.Wrap(err, "failed to start run")
	}
	res, err := c.Judge(ctx, sub)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Error("judging failed", zap.Int64("run_id", sub.RunID), zap.Error(err))
		attempt, ferr := c.recorder.Fail(sub.RunID, err.Error())
		if ferr != nil {
			return nil, errors.Wrap(ferr, "failed to record setup error")
		}
		return attempt, err
	}

	attempt, err := c.recorder.Complete(sub.RunID, *res)
	if err != nil {
		return nil, errors.Wrap(err, "failed to publish result")
	}
	return attempt, nil
}
