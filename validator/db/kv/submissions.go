package kv

import (
	"context"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/chainswarm/subnet2/validator/types"
)

// CreateSubmission persists a new submission. At most one submission per
// participant per tournament is kept, so a second write for the same
// participant returns ErrSubmissionExists.
func (s *Store) CreateSubmission(ctx context.Context, sub *types.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encode(sub)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(submissionIndicesBucket)
		key := participantKey(sub.TournamentID, sub.ParticipantID)
		if existing := idx.Get(key); existing != nil {
			return ErrSubmissionExists
		}
		if err := tx.Bucket(submissionsBucket).Put(sub.ID[:], enc); err != nil {
			return err
		}
		return idx.Put(key, sub.ID[:])
	})
}

// Submission retrieves a submission by its id.
func (s *Store) Submission(ctx context.Context, id uuid.UUID) (*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &types.Submission{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(submissionsBucket).Get(id[:])
		if enc == nil {
			return ErrNotFound
		}
		return decode(enc, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Submissions retrieves every submission belonging to a tournament,
// ordered by participant id.
func (s *Store) Submissions(ctx context.Context, tournamentID uuid.UUID) ([]*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var subs []*types.Submission
	err := s.db.View(func(tx *bolt.Tx) error {
		subsBkt := tx.Bucket(submissionsBucket)
		return forEachPrefix(tx.Bucket(submissionIndicesBucket), tournamentID[:], func(_, id []byte) error {
			enc := subsBkt.Get(id)
			if enc == nil {
				return ErrNotFound
			}
			sub := &types.Submission{}
			if err := decode(enc, sub); err != nil {
				return err
			}
			subs = append(subs, sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateSubmission overwrites an existing submission record.
func (s *Store) UpdateSubmission(ctx context.Context, sub *types.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encode(sub)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(submissionsBucket)
		if existing := bkt.Get(sub.ID[:]); existing == nil {
			return ErrNotFound
		}
		return bkt.Put(sub.ID[:], enc)
	})
}
