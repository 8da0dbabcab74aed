package kv

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/chainswarm/subnet2/validator/types"
)

// CreateEvaluationRun persists a new evaluation run. A run is uniquely
// identified by (submission, epoch) so a redelivered task body that
// already ran returns ErrRunExists and the caller skips the work.
func (s *Store) CreateEvaluationRun(ctx context.Context, run *types.EvaluationRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRunCounts(run); err != nil {
		return err
	}
	enc, err := encode(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(runIndicesBucket)
		key := runKey(run.SubmissionID, run.EpochNumber)
		if existing := idx.Get(key); existing != nil {
			return ErrRunExists
		}
		if err := tx.Bucket(runsBucket).Put(run.ID[:], enc); err != nil {
			return err
		}
		return idx.Put(key, run.ID[:])
	})
}

// EvaluationRun retrieves the run recorded for a submission at an epoch.
func (s *Store) EvaluationRun(ctx context.Context, submissionID uuid.UUID, epoch uint64) (*types.EvaluationRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run := &types.EvaluationRun{}
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(runIndicesBucket).Get(runKey(submissionID, epoch))
		if id == nil {
			return ErrNotFound
		}
		enc := tx.Bucket(runsBucket).Get(id)
		if enc == nil {
			return ErrNotFound
		}
		return decode(enc, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// EvaluationRuns retrieves every run recorded for a tournament's
// submissions, grouped by submission and ordered by epoch.
func (s *Store) EvaluationRuns(ctx context.Context, tournamentID uuid.UUID) ([]*types.EvaluationRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var runs []*types.EvaluationRun
	err := s.db.View(func(tx *bolt.Tx) error {
		runsBkt := tx.Bucket(runsBucket)
		runIdx := tx.Bucket(runIndicesBucket)
		return forEachPrefix(tx.Bucket(submissionIndicesBucket), tournamentID[:], func(_, subID []byte) error {
			return forEachPrefix(runIdx, subID, func(_, runID []byte) error {
				enc := runsBkt.Get(runID)
				if enc == nil {
					return ErrNotFound
				}
				run := &types.EvaluationRun{}
				if err := decode(enc, run); err != nil {
					return err
				}
				runs = append(runs, run)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// UpdateEvaluationRun overwrites an existing run record.
func (s *Store) UpdateEvaluationRun(ctx context.Context, run *types.EvaluationRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRunCounts(run); err != nil {
		return err
	}
	enc, err := encode(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(runsBucket)
		if existing := bkt.Get(run.ID[:]); existing == nil {
			return ErrNotFound
		}
		return bkt.Put(run.ID[:], enc)
	})
}

func checkRunCounts(run *types.EvaluationRun) error {
	if run.SyntheticFound > run.SyntheticExpected {
		return ErrCountsInvariant
	}
	return nil
}

// forEachPrefix iterates the key range of an index bucket sharing a
// prefix, in key order.
func forEachPrefix(bkt *bolt.Bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := bkt.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
