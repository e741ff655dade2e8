package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAssignsRunIDs(t *testing.T) {
	s := openStore(t)

	a := &models.Attempt{UserID: "alice", ProblemID: "1"}
	if err := s.Create(a); err != nil {
		t.Fatal(err)
	}
	if a.RunID != 1 || a.Status != models.AttemptStatusJudging || a.SubmitTime.IsZero() {
		t.Fatalf("unexpected attempt %+v", a)
	}

	if err := s.Create(&models.Attempt{RunID: 10, UserID: "bob"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(&models.Attempt{RunID: 10}); err == nil {
		t.Fatal("expected duplicate run id to be rejected")
	}

	next := &models.Attempt{UserID: "carol"}
	if err := s.Create(next); err != nil {
		t.Fatal(err)
	}
	if next.RunID != 11 {
		t.Fatalf("expected run id after explicit one, got %d", next.RunID)
	}
}

func TestCompleteAndFail(t *testing.T) {
	s := openStore(t)
	a := &models.Attempt{UserID: "alice", ProblemID: "1"}
	if err := s.Create(a); err != nil {
		t.Fatal(err)
	}

	got, err := s.Complete(a.RunID, models.JudgeResult{Overall: models.VerdictWrongAnswer, ElapsedMs: 12, MemoryKB: 65536})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.AttemptStatusJudged || got.Result != models.VerdictWrongAnswer || got.TimeMs != 12 || got.JudgedAt == nil {
		t.Fatalf("unexpected attempt %+v", got)
	}

	stored, err := s.Get(a.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.UserID != "alice" || stored.MemoryKB != 65536 {
		t.Fatalf("metadata lost: %+v", stored)
	}

	if _, err := s.Fail(a.RunID, "late failure"); !errors.Is(err, ErrSettled) {
		t.Fatalf("expected ErrSettled for a judged run, got %v", err)
	}

	b := &models.Attempt{UserID: "alice", ProblemID: "1"}
	if err := s.Create(b); err != nil {
		t.Fatal(err)
	}
	failed, err := s.Fail(b.RunID, "sample data missing")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.AttemptStatusFailed || failed.Error == "" {
		t.Fatalf("unexpected attempt %+v", failed)
	}
	if _, err := s.Complete(b.RunID, models.JudgeResult{Overall: models.VerdictAccepted}); !errors.Is(err, ErrSettled) {
		t.Fatalf("expected ErrSettled for a failed run, got %v", err)
	}

	if _, err := s.Complete(99, models.JudgeResult{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCompletions(t *testing.T) {
	s := openStore(t)
	const n = 50
	for i := 0; i < n; i++ {
		if err := s.Create(&models.Attempt{ProblemID: "p"}); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			status := models.VerdictAccepted
			if id%2 == 0 {
				status = models.VerdictWrongAnswer
			}
			if _, err := s.Complete(id, models.JudgeResult{Overall: status, ElapsedMs: id}); err != nil {
				t.Error(err)
			}
		}(int64(i))
	}
	wg.Wait()

	for i := int64(1); i <= n; i++ {
		a, err := s.Get(i)
		if err != nil {
			t.Fatal(err)
		}
		if a.Status != models.AttemptStatusJudged || a.TimeMs != i {
			t.Fatalf("run %d corrupted: %+v", i, a)
		}
	}

	stats, err := s.ProblemStats("p")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Submitted != n || stats.Accepted != n/2 || stats.Ratio != 50 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestListings(t *testing.T) {
	s := openStore(t)
	for _, a := range []*models.Attempt{
		{UserID: "alice", ProblemID: "1"},
		{UserID: "bob", ProblemID: "1"},
		{UserID: "alice", ProblemID: "2"},
	} {
		if err := s.Create(a); err != nil {
			t.Fatal(err)
		}
	}

	mine, err := s.ListByUser("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 || mine[0].RunID != 3 || mine[1].RunID != 1 {
		t.Fatalf("unexpected listing %+v", mine)
	}

	byProblem, err := s.ListByProblem("1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byProblem) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(byProblem))
	}

	empty, err := s.ProblemStats("42")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Submitted != 0 || empty.Ratio != 0 {
		t.Fatalf("unexpected stats %+v", empty)
	}
}

// startAt marks the run started at the given moment.
func startAt(t *testing.T, s *Store, runID int64, at time.Time) {
	t.Helper()
	s.now = func() time.Time { return at }
	defer func() { s.now = time.Now }()
	if _, err := s.Start(runID); err != nil {
		t.Fatal(err)
	}
}

func TestReconcileStale(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	queued := &models.Attempt{SubmitTime: base}
	old := &models.Attempt{SubmitTime: base}
	fresh := &models.Attempt{SubmitTime: base}
	done := &models.Attempt{SubmitTime: base}
	for _, a := range []*models.Attempt{queued, old, fresh, done} {
		if err := s.Create(a); err != nil {
			t.Fatal(err)
		}
	}
	startAt(t, s, old.RunID, base.Add(time.Minute))
	startAt(t, s, fresh.RunID, base.Add(8*time.Minute))
	startAt(t, s, done.RunID, base.Add(time.Minute))
	if _, err := s.Complete(done.RunID, models.JudgeResult{Overall: models.VerdictAccepted}); err != nil {
		t.Fatal(err)
	}

	settled, err := s.ReconcileStale(5*time.Minute, base.Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(settled) != 1 || settled[0] != old.RunID {
		t.Fatalf("expected only run %d settled, got %v", old.RunID, settled)
	}

	a, _ := s.Get(old.RunID)
	if a.Status != models.AttemptStatusJudged || a.Result != models.VerdictRuntimeError {
		t.Fatalf("unexpected attempt %+v", a)
	}
	if q, _ := s.Get(queued.RunID); q.Status != models.AttemptStatusJudging {
		t.Fatal("a run waiting in the queue should stay judging")
	}
	if f, _ := s.Get(fresh.RunID); f.Status != models.AttemptStatusJudging {
		t.Fatal("fresh run should stay judging")
	}
	if d, _ := s.Get(done.RunID); d.Result != models.VerdictAccepted {
		t.Fatal("finished run should not change")
	}
}

func TestLateCompletionDoesNotOverwriteSettledRun(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &models.Attempt{ProblemID: "1", SubmitTime: base}
	if err := s.Create(a); err != nil {
		t.Fatal(err)
	}
	startAt(t, s, a.RunID, base)
	if _, err := s.ReconcileStale(time.Minute, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Complete(a.RunID, models.JudgeResult{Overall: models.VerdictAccepted}); !errors.Is(err, ErrSettled) {
		t.Fatalf("expected ErrSettled, got %v", err)
	}
	if _, err := s.Start(a.RunID); !errors.Is(err, ErrSettled) {
		t.Fatalf("expected ErrSettled on start, got %v", err)
	}
	got, _ := s.Get(a.RunID)
	if got.Result != models.VerdictRuntimeError {
		t.Fatalf("settled result changed to %s", got.Result)
	}
	stats, err := s.ProblemStats("1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Accepted != 0 {
		t.Fatalf("stats counted the late verdict: %+v", stats)
	}
}

func TestReconcileInterrupted(t *testing.T) {
	s := openStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	queued := &models.Attempt{SubmitTime: now}
	started := &models.Attempt{SubmitTime: now}
	for _, a := range []*models.Attempt{queued, started} {
		if err := s.Create(a); err != nil {
			t.Fatal(err)
		}
	}
	startAt(t, s, started.RunID, now)

	settled, err := s.ReconcileInterrupted(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(settled) != 2 {
		t.Fatalf("expected both runs settled, got %v", settled)
	}
}
