// Package control defines the HTTP surface for manually starting a
// tournament. Mounted on the monitoring mux in manual schedule mode.
package control

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/validator/db/iface"
	"github.com/chainswarm/subnet2/validator/db/kv"
)

// Trigger starts a tournament with the given epoch number.
type Trigger interface {
	Trigger(ctx context.Context, epochNumber uint64) error
}

// Handler accepts POST requests to start a tournament and responds 202
// once the tournament's jobs are on the queue; the phases themselves
// run in the orchestrator, not on this request. The epoch query
// parameter is optional; when absent the next number after the highest
// recorded epoch is used.
func Handler(trigger Trigger, db iface.Database) func(http.ResponseWriter, *http.Request) {
	log := logrus.WithField("prefix", "control")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var epoch uint64
		if raw := r.URL.Query().Get("epoch"); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, "bad epoch %q\n", raw)
				return
			}
			epoch = parsed
		} else {
			highest, exists, err := db.HighestEpochNumber(r.Context())
			if err != nil {
				log.WithError(err).Error("Could not determine next epoch number")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if exists {
				epoch = highest + 1
			}
		}

		log.WithField("epoch", epoch).Info("Tournament trigger received")
		if err := trigger.Trigger(r.Context(), epoch); err != nil {
			switch {
			case errors.Is(err, kv.ErrActiveTournamentExists):
				w.WriteHeader(http.StatusConflict)
				fmt.Fprint(w, "a tournament is already in progress\n")
			case errors.Is(err, kv.ErrEpochExists):
				w.WriteHeader(http.StatusConflict)
				fmt.Fprintf(w, "epoch %d was already run\n", epoch)
			default:
				log.WithError(err).Error("Could not start tournament")
				w.WriteHeader(http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, "tournament scheduled for epoch %d\n", epoch)
	}
}
