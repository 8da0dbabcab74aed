package kv

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// The schema defines how entities are stored and indexed. Entity buckets
// map a 16-byte uuid to a json-encoded record; index buckets map a
// composite key to the owning entity's uuid so uniqueness checks are a
// single get.
var (
	tournamentsBucket       = []byte("tournaments")
	tournamentEpochsBucket  = []byte("tournament-epoch-indices")
	submissionsBucket       = []byte("submissions")
	submissionIndicesBucket = []byte("submission-participant-indices")
	runsBucket              = []byte("evaluation-runs")
	runIndicesBucket        = []byte("run-epoch-indices")
	resultsBucket           = []byte("tournament-results")
	jobsBucket              = []byte("jobs")
	metadataBucket          = []byte("metadata")

	// Metadata keys.
	activeTournamentKey = []byte("active-tournament")
)

func epochKey(epoch uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, epoch)
	return key
}

func bytesToEpoch(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// participantKey indexes a submission or result by tournament and
// participant.
func participantKey(tournamentID uuid.UUID, participantID string) []byte {
	key := make([]byte, 0, 16+len(participantID))
	key = append(key, tournamentID[:]...)
	return append(key, []byte(participantID)...)
}

// runKey indexes an evaluation run by submission and epoch, the dedupe
// key for idempotent task bodies.
func runKey(submissionID uuid.UUID, epoch uint64) []byte {
	key := make([]byte, 0, 24)
	key = append(key, submissionID[:]...)
	return append(key, epochKey(epoch)...)
}
