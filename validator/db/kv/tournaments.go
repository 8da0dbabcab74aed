package kv

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/chainswarm/subnet2/validator/types"
)

// CreateTournament persists a new tournament. The write fails if the
// epoch number is already taken or another tournament is still in a
// non-terminal status.
func (s *Store) CreateTournament(ctx context.Context, t *types.Tournament) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	enc, err := encode(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metadataBucket)
		if active := meta.Get(activeTournamentKey); active != nil {
			return ErrActiveTournamentExists
		}
		epochs := tx.Bucket(tournamentEpochsBucket)
		if existing := epochs.Get(epochKey(t.EpochNumber)); existing != nil {
			return ErrEpochExists
		}
		if err := tx.Bucket(tournamentsBucket).Put(t.ID[:], enc); err != nil {
			return err
		}
		if err := epochs.Put(epochKey(t.EpochNumber), t.ID[:]); err != nil {
			return err
		}
		return meta.Put(activeTournamentKey, t.ID[:])
	})
}

// Tournament retrieves a tournament by its id.
func (s *Store) Tournament(ctx context.Context, id uuid.UUID) (*types.Tournament, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &types.Tournament{}
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(tournamentsBucket).Get(id[:])
		if enc == nil {
			return ErrNotFound
		}
		return decode(enc, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TournamentByEpoch retrieves the tournament that owns an epoch number.
func (s *Store) TournamentByEpoch(ctx context.Context, epoch uint64) (*types.Tournament, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &types.Tournament{}
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(tournamentEpochsBucket).Get(epochKey(epoch))
		if id == nil {
			return ErrNotFound
		}
		enc := tx.Bucket(tournamentsBucket).Get(id)
		if enc == nil {
			return ErrNotFound
		}
		return decode(enc, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ActiveTournament retrieves the single tournament in a non-terminal
// status, or nil when every tournament has concluded.
func (s *Store) ActiveTournament(ctx context.Context) (*types.Tournament, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &types.Tournament{}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(metadataBucket).Get(activeTournamentKey)
		if id == nil {
			return nil
		}
		enc := tx.Bucket(tournamentsBucket).Get(id)
		if enc == nil {
			return errors.Wrap(ErrNotFound, "active tournament id points at missing record")
		}
		found = true
		return decode(enc, t)
	})
	if err != nil || !found {
		return nil, err
	}
	return t, nil
}

// HighestEpochNumber returns the largest epoch number ever assigned to a
// tournament and whether any tournament exists at all.
func (s *Store) HighestEpochNumber(ctx context.Context) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var epoch uint64
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(tournamentEpochsBucket).Cursor().Last()
		if k == nil {
			return nil
		}
		exists = true
		epoch = bytesToEpoch(k)
		return nil
	})
	return epoch, exists, err
}

// AdvanceTournamentStatus moves a tournament one step forward through
// its lifecycle, or to failed from any non-terminal status. Any other
// transition returns ErrInvalidTransition. Reaching a terminal status
// releases the active-tournament slot.
func (s *Store) AdvanceTournamentStatus(ctx context.Context, id uuid.UUID, next types.TournamentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(tournamentsBucket)
		enc := bkt.Get(id[:])
		if enc == nil {
			return ErrNotFound
		}
		t := &types.Tournament{}
		if err := decode(enc, t); err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(next) {
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", t.Status, next)
		}
		t.Status = next
		updated, err := encode(t)
		if err != nil {
			return err
		}
		if err := bkt.Put(id[:], updated); err != nil {
			return err
		}
		if next.Terminal() {
			return releaseActive(tx, id)
		}
		return nil
	})
}

// MarkTournamentCompleted transitions a tournament from evaluating to
// completed and records when evaluation concluded and weights were
// emitted, all in one transaction.
func (s *Store) MarkTournamentCompleted(ctx context.Context, id uuid.UUID, completedAt, weightsSetAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(tournamentsBucket)
		enc := bkt.Get(id[:])
		if enc == nil {
			return ErrNotFound
		}
		t := &types.Tournament{}
		if err := decode(enc, t); err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(types.TournamentCompleted) {
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", t.Status, types.TournamentCompleted)
		}
		t.Status = types.TournamentCompleted
		t.CompletedAt = &completedAt
		t.WeightsSetAt = &weightsSetAt
		updated, err := encode(t)
		if err != nil {
			return err
		}
		if err := bkt.Put(id[:], updated); err != nil {
			return err
		}
		return releaseActive(tx, id)
	})
}

// AddTournamentCounts increments the denormalized submission and run
// totals on a tournament record.
func (s *Store) AddTournamentCounts(ctx context.Context, id uuid.UUID, submissions, runs int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(tournamentsBucket)
		enc := bkt.Get(id[:])
		if enc == nil {
			return ErrNotFound
		}
		t := &types.Tournament{}
		if err := decode(enc, t); err != nil {
			return err
		}
		t.TotalSubmissions += submissions
		t.TotalRuns += runs
		updated, err := encode(t)
		if err != nil {
			return err
		}
		return bkt.Put(id[:], updated)
	})
}

func releaseActive(tx *bolt.Tx, id uuid.UUID) error {
	meta := tx.Bucket(metadataBucket)
	if active := meta.Get(activeTournamentKey); bytes.Equal(active, id[:]) {
		return meta.Delete(activeTournamentKey)
	}
	return nil
}
