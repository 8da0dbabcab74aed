package kv

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/chainswarm/subnet2/validator/types"
)

// SaveTournamentResults replaces the full result set of a tournament in
// a single transaction. A redelivered finalize task therefore lands on
// the same stored state instead of duplicating rows.
func (s *Store) SaveTournamentResults(ctx context.Context, tournamentID uuid.UUID, results []*types.TournamentResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(results))
	encoded := make([][]byte, len(results))
	for i, r := range results {
		if r.TournamentID != tournamentID {
			return errors.Errorf("result for participant %s belongs to tournament %s", r.ParticipantID, r.TournamentID)
		}
		if seen[r.ParticipantID] {
			return errors.Errorf("duplicate result for participant %s", r.ParticipantID)
		}
		seen[r.ParticipantID] = true
		enc, err := encode(r)
		if err != nil {
			return err
		}
		encoded[i] = enc
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(resultsBucket)
		var stale [][]byte
		if err := forEachPrefix(bkt, tournamentID[:], func(k, _ []byte) error {
			stale = append(stale, append([]byte{}, k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		for i, r := range results {
			if err := bkt.Put(participantKey(tournamentID, r.ParticipantID), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// TournamentResults retrieves the stored result rows of a tournament,
// ordered by participant id.
func (s *Store) TournamentResults(ctx context.Context, tournamentID uuid.UUID) ([]*types.TournamentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var results []*types.TournamentResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachPrefix(tx.Bucket(resultsBucket), tournamentID[:], func(_, enc []byte) error {
			r := &types.TournamentResult{}
			if err := decode(enc, r); err != nil {
				return err
			}
			results = append(results, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
