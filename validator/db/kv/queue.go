package kv

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/chainswarm/subnet2/validator/types"
)

// Enqueue persists a job for later delivery. Jobs become visible to
// DequeueDue once their NotBefore time has passed.
func (s *Store) Enqueue(ctx context.Context, job *types.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	enc, err := encode(job)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put(job.ID[:], enc)
	})
}

// DequeueDue leases the due job with the earliest NotBefore, extending
// its lease so concurrent workers do not pick it up, and increments its
// attempt counter. Returns nil when no job is due. A job whose lease has
// lapsed without an Ack becomes due again, which gives the queue its
// at-least-once delivery.
func (s *Store) DequeueDue(ctx context.Context, now time.Time, lease time.Duration) (*types.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var leased *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(jobsBucket)
		var due *types.Job
		if err := bkt.ForEach(func(_, enc []byte) error {
			job := &types.Job{}
			if err := decode(enc, job); err != nil {
				return err
			}
			if job.NotBefore.After(now) || job.LeasedUntil.After(now) {
				return nil
			}
			if due == nil || job.NotBefore.Before(due.NotBefore) {
				due = job
			}
			return nil
		}); err != nil {
			return err
		}
		if due == nil {
			return nil
		}
		due.LeasedUntil = now.Add(lease)
		due.Attempts++
		enc, err := encode(due)
		if err != nil {
			return err
		}
		if err := bkt.Put(due.ID[:], enc); err != nil {
			return err
		}
		leased = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// Ack removes a completed job from the queue.
func (s *Store) Ack(ctx context.Context, jobID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete(jobID[:])
	})
}

// Requeue releases a job's lease and schedules it for redelivery no
// earlier than notBefore.
func (s *Store) Requeue(ctx context.Context, jobID uuid.UUID, notBefore time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(jobsBucket)
		enc := bkt.Get(jobID[:])
		if enc == nil {
			return ErrNotFound
		}
		job := &types.Job{}
		if err := decode(enc, job); err != nil {
			return err
		}
		job.LeasedUntil = time.Time{}
		job.NotBefore = notBefore
		updated, err := encode(job)
		if err != nil {
			return err
		}
		return bkt.Put(jobID[:], updated)
	})
}

// PendingJobs returns every queued job ordered by NotBefore, used at
// startup to resume work that was in flight before a crash.
func (s *Store) PendingJobs(ctx context.Context) ([]*types.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(_, enc []byte) error {
			job := &types.Job{}
			if err := decode(enc, job); err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].NotBefore.Before(jobs[j].NotBefore)
	})
	return jobs, nil
}
