// Package weights turns a tournament's final ranking into the weight
// vector handed to the external incentive layer.
package weights

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/validator/types"
)

var log = logrus.WithField("prefix", "weights")

// Weight is one participant's share of the emitted vector.
type Weight struct {
	ParticipantID string
	Weight        float64
}

// FromResults normalizes final scores into non-negative weights summing
// to 1. When every score is zero the vector is uniformly zero.
func FromResults(results []*types.TournamentResult) []Weight {
	var total float64
	for _, r := range results {
		if r.FinalScore > 0 {
			total += r.FinalScore
		}
	}
	weights := make([]Weight, 0, len(results))
	for _, r := range results {
		w := Weight{ParticipantID: r.ParticipantID}
		if total > 0 && r.FinalScore > 0 {
			w.Weight = r.FinalScore / total
		}
		weights = append(weights, w)
	}
	return weights
}

// Setter is the boundary to the on-chain weight-setting layer. The
// transport is outside the engine.
type Setter interface {
	SetWeights(ctx context.Context, epoch uint64, weights []Weight) error
}

// LogSetter is a Setter that only logs the vector, for deployments where
// the on-chain layer runs out of process.
type LogSetter struct{}

// SetWeights logs each participant weight.
func (LogSetter) SetWeights(_ context.Context, epoch uint64, weights []Weight) error {
	for _, w := range weights {
		log.WithFields(logrus.Fields{
			"epoch":       epoch,
			"participant": w.ParticipantID,
			"weight":      w.Weight,
		}).Info("Emitting weight")
	}
	return nil
}
