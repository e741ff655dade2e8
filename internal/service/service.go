// Package service accepts submissions, records them and hands them to the judging
// workers without blocking the caller on the verdict.
package service

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/compiler"
	"github.com/cutekitek/rankode-judge/internal/pool"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrInvalidSubmission = errors.New("invalid submission")

type AttemptStore interface {
	Create(a *models.Attempt) error
	Fail(runID int64, reason string) (*models.Attempt, error)
}

type Judge interface {
	Run(ctx context.Context, sub *models.Submission) (*models.Attempt, error)
}

// Notifier receives every attempt once it reaches a final state, together with the
// submission that produced it.
type Notifier interface {
	Notify(ctx context.Context, sub *models.Submission, attempt *models.Attempt)
}

type Config struct {
	SourceRoot string
	Workers    int
	QueueSize  int
}

type Service struct {
	cfg      Config
	langs    compiler.Table
	store    AttemptStore
	judge    Judge
	notifier Notifier
	pool     *pool.Pool[*models.Submission]
	log      *zap.Logger
}

func New(cfg Config, langs compiler.Table, store AttemptStore, judge Judge, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:   cfg,
		langs: langs,
		store: store,
		judge: judge,
		log:   log,
	}
	s.pool = pool.New(cfg.Workers, cfg.QueueSize, s.handle)
	return s
}

// SetNotifier must be called before Start.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) Start() {
	s.pool.Start()
	s.log.Info("judging workers started", zap.Int("workers", s.cfg.Workers), zap.Int("queue", s.cfg.QueueSize))
}

// Close waits for queued submissions to be judged.
func (s *Service) Close() {
	s.pool.Close()
}

// Abort cancels in-flight judging. Interrupted runs stay Judging until reconciled.
func (s *Service) Abort() {
	s.pool.Abort()
}

func (s *Service) Stats() pool.Stats {
	return s.pool.Stats()
}

// Submit records the submission and queues it, waiting for queue room until ctx is done.
func (s *Service) Submit(ctx context.Context, sub *models.Submission) (*models.Attempt, error) {
	attempt, err := s.prepare(sub)
	if err != nil {
		return nil, err
	}
	if err := s.pool.Submit(ctx, sub); err != nil {
		return nil, s.rollback(attempt, err)
	}
	return attempt, nil
}

// TrySubmit is Submit without waiting; a full queue yields pool.ErrQueueFull.
func (s *Service) TrySubmit(sub *models.Submission) (*models.Attempt, error) {
	attempt, err := s.prepare(sub)
	if err != nil {
		return nil, err
	}
	if err := s.pool.TrySubmit(sub); err != nil {
		return nil, s.rollback(attempt, err)
	}
	return attempt, nil
}

func (s *Service) prepare(sub *models.Submission) (*models.Attempt, error) {
	lang, err := s.validate(sub)
	if err != nil {
		return nil, err
	}

	attempt := &models.Attempt{
		RunID:      sub.RunID,
		UserID:     sub.UserID,
		ProblemID:  sub.ProblemID,
		Language:   sub.Language,
		CodeLength: len(sub.Code),
		SubmitTime: time.Now(),
	}
	if sub.SourcePath != "" {
		if info, err := os.Stat(sub.SourcePath); err == nil {
			attempt.CodeLength = int(info.Size())
		}
	}
	if err := s.store.Create(attempt); err != nil {
		return nil, errors.Wrap(err, "failed to create attempt")
	}
	sub.RunID = attempt.RunID

	if sub.SourcePath == "" {
		path, err := s.writeSource(sub, lang)
		if err != nil {
			return nil, s.rollback(attempt, err)
		}
		sub.SourcePath = path
	}
	return attempt, nil
}

func (s *Service) validate(sub *models.Submission) (compiler.Language, error) {
	var problems []string
	if strings.TrimSpace(sub.ProblemID) == "" {
		problems = append(problems, "problem_id is required")
	}
	if sub.TimeLimitSeconds <= 0 {
		problems = append(problems, "time_limit_seconds must be positive")
	}
	if sub.MemoryLimitKB < 0 {
		problems = append(problems, "memory_limit_kb must not be negative")
	}
	if sub.SourcePath == "" && sub.Code == "" {
		problems = append(problems, "source_path or code is required")
	}
	lang, ok := s.langs.Lookup(sub.Language)
	if !ok {
		problems = append(problems, "unsupported language "+strconv.Quote(sub.Language))
	}
	if len(problems) > 0 {
		return lang, errors.Wrap(ErrInvalidSubmission, strings.Join(problems, "; "))
	}
	return lang, nil
}

// writeSource stores inline code as <source_root>/<user>/<run_id><ext>.
func (s *Service) writeSource(sub *models.Submission, lang compiler.Language) (string, error) {
	user := filepath.Base(filepath.Clean("/" + sub.UserID))
	if user == "/" || user == "." {
		user = "anonymous"
	}
	dir := filepath.Join(s.cfg.SourceRoot, user)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create source dir")
	}
	path := filepath.Join(dir, strconv.FormatInt(sub.RunID, 10)+lang.Extension)
	if err := os.WriteFile(path, []byte(sub.Code), 0644); err != nil {
		return "", errors.Wrap(err, "failed to write source")
	}
	return path, nil
}

func (s *Service) rollback(attempt *models.Attempt, cause error) error {
	if _, err := s.store.Fail(attempt.RunID, cause.Error()); err != nil {
		s.log.Error("failed to mark attempt failed", zap.Int64("run_id", attempt.RunID), zap.Error(err))
	}
	return cause
}

func (s *Service) handle(ctx context.Context, sub *models.Submission) {
	log := s.log.With(zap.Int64("run_id", sub.RunID))
	attempt, err := s.judge.Run(ctx, sub)
	if err != nil {
		log.Warn("judging task ended with error", zap.Error(err))
	}
	if attempt != nil && s.notifier != nil {
		s.notifier.Notify(ctx, sub, attempt)
	}
}
