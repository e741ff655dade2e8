// Package store keeps attempt records in an embedded bbolt database. Each record lives
// under its own run id key and every mutation is a single read-write transaction, so
// concurrent updates of different runs never interfere.
package store

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("attempt not found")
	// ErrSettled is returned when a run that already left the Judging state is updated again.
	ErrSettled = errors.New("attempt already settled")

	attemptsBucket = []byte("attempts")
)

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open attempt store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(attemptsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create bucket")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(runID int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(runID))
	return b
}

func get(b *bolt.Bucket, runID int64) (*models.Attempt, error) {
	data := b.Get(key(runID))
	if data == nil {
		return nil, errors.Wrapf(ErrNotFound, "run %d", runID)
	}
	a := new(models.Attempt)
	if err := json.Unmarshal(data, a); err != nil {
		return nil, errors.Wrapf(err, "corrupt record for run %d", runID)
	}
	return a, nil
}

func put(b *bolt.Bucket, a *models.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return b.Put(key(a.RunID), data)
}

// Create stores a new attempt in the Judging state. A zero RunID is replaced by the
// next free id; an explicit one must not exist yet.
func (s *Store) Create(a *models.Attempt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(attemptsBucket)
		if a.RunID == 0 {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			a.RunID = int64(id)
		} else {
			if b.Get(key(a.RunID)) != nil {
				return errors.Errorf("run %d already exists", a.RunID)
			}
			if uint64(a.RunID) > b.Sequence() {
				if err := b.SetSequence(uint64(a.RunID)); err != nil {
					return err
				}
			}
		}
		if a.SubmitTime.IsZero() {
			a.SubmitTime = s.now()
		}
		a.Status = models.AttemptStatusJudging
		return put(b, a)
	})
}

func (s *Store) Get(runID int64) (*models.Attempt, error) {
	var a *models.Attempt
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		a, err = get(tx.Bucket(attemptsBucket), runID)
		return err
	})
	return a, err
}

// Update applies fn to the stored record within one transaction.
func (s *Store) Update(runID int64, fn func(*models.Attempt) error) (*models.Attempt, error) {
	var a *models.Attempt
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(attemptsBucket)
		var err error
		if a, err = get(b, runID); err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		a.RunID = runID
		return put(b, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func judging(a *models.Attempt) error {
	if a.Status != models.AttemptStatusJudging {
		return errors.Wrapf(ErrSettled, "run %d is %s", a.RunID, a.Status)
	}
	return nil
}

// Start records that a worker began judging the run. Stale-run reconciliation measures
// age from this moment, so time spent waiting in the queue does not count.
func (s *Store) Start(runID int64) (*models.Attempt, error) {
	return s.Update(runID, func(a *models.Attempt) error {
		if err := judging(a); err != nil {
			return err
		}
		now := s.now()
		a.StartedAt = &now
		return nil
	})
}

func (s *Store) Complete(runID int64, res models.JudgeResult) (*models.Attempt, error) {
	return s.Update(runID, func(a *models.Attempt) error {
		if err := judging(a); err != nil {
			return err
		}
		now := s.now()
		a.Status = models.AttemptStatusJudged
		a.Result = res.Overall
		a.TimeMs = res.ElapsedMs
		a.MemoryKB = res.MemoryKB
		a.Error = res.Diagnostics
		a.JudgedAt = &now
		return nil
	})
}

func (s *Store) Fail(runID int64, reason string) (*models.Attempt, error) {
	return s.Update(runID, func(a *models.Attempt) error {
		if err := judging(a); err != nil {
			return err
		}
		now := s.now()
		a.Status = models.AttemptStatusFailed
		a.Error = reason
		a.JudgedAt = &now
		return nil
	})
}

func (s *Store) list(match func(*models.Attempt) bool) ([]models.Attempt, error) {
	var out []models.Attempt
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(attemptsBucket).ForEach(func(_, v []byte) error {
			var a models.Attempt
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if match(&a) {
				out = append(out, a)
			}
			return nil
		})
	})
	return out, err
}

// ListByUser returns the user's attempts, newest first.
func (s *Store) ListByUser(userID string) ([]models.Attempt, error) {
	out, err := s.list(func(a *models.Attempt) bool { return a.UserID == userID })
	newestFirst(out)
	return out, err
}

// ListByProblem returns the problem's attempts, newest first.
func (s *Store) ListByProblem(problemID string) ([]models.Attempt, error) {
	out, err := s.list(func(a *models.Attempt) bool { return a.ProblemID == problemID })
	newestFirst(out)
	return out, err
}

func newestFirst(a []models.Attempt) {
	sort.Slice(a, func(i, j int) bool { return a[i].RunID > a[j].RunID })
}

// ProblemStats counts submitted and accepted attempts. Ratio is an integer percentage.
func (s *Store) ProblemStats(problemID string) (models.ProblemStats, error) {
	stats := models.ProblemStats{ProblemID: problemID}
	attempts, err := s.ListByProblem(problemID)
	if err != nil {
		return stats, err
	}
	for _, a := range attempts {
		stats.Submitted++
		if a.Result == models.VerdictAccepted {
			stats.Accepted++
		}
	}
	if stats.Submitted > 0 {
		stats.Ratio = stats.Accepted * 100 / stats.Submitted
	}
	return stats, nil
}

// ReconcileStale settles runs a worker started more than olderThan ago and that are still
// Judging as a runtime error, the verdict of a judging task that never reported. Queued
// runs are left alone. It returns the settled ids.
func (s *Store) ReconcileStale(olderThan time.Duration, now time.Time) ([]int64, error) {
	return s.settle(now, func(a *models.Attempt) bool {
		return a.StartedAt != nil && now.Sub(*a.StartedAt) > olderThan
	})
}

// ReconcileInterrupted settles every run still Judging, queued or started. It is meant for
// startup, when no worker of the previous process can finish them.
func (s *Store) ReconcileInterrupted(now time.Time) ([]int64, error) {
	return s.settle(now, func(*models.Attempt) bool { return true })
}

func (s *Store) settle(now time.Time, match func(*models.Attempt) bool) ([]int64, error) {
	var settled []int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(attemptsBucket)
		var stale []*models.Attempt
		err := b.ForEach(func(_, v []byte) error {
			var a models.Attempt
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Status == models.AttemptStatusJudging && match(&a) {
				stale = append(stale, &a)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, a := range stale {
			judgedAt := now
			a.Status = models.AttemptStatusJudged
			a.Result = models.VerdictRuntimeError
			a.Error = "judging did not finish"
			a.JudgedAt = &judgedAt
			if err := put(b, a); err != nil {
				return err
			}
			settled = append(settled, a.RunID)
		}
		return nil
	})
	return settled, err
}
