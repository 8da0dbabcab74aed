// Package dataset reads the immutable on-disk datasets the engine
// consumes. A dataset is a directory per (network, test date) holding
// csv artifacts; the engine never writes into it.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "dataset")

// Artifact file names inside a dataset directory. ground_truth is
// validator-only and never mounted into a sandbox.
const (
	TransfersFile     = "transfers.csv"
	AddressLabelsFile = "address_labels.csv"
	AssetPricesFile   = "asset_prices.csv"
	AssetsFile        = "assets.csv"
	GroundTruthFile   = "ground_truth.csv"
)

// Layout locates datasets under {root}/{network}/{YYYY-MM-DD}/{window}/.
type Layout struct {
	Root   string
	Window string
}

// Dir returns the dataset directory for a network and test date.
func (l Layout) Dir(network string, date time.Time) string {
	return filepath.Join(l.Root, network, date.UTC().Format("2006-01-02"), l.Window)
}

// OutputDir returns the sandbox output directory for one run, laid out
// as {root}/{tournament_id}/{epoch_number}/{participant_id}/.
func OutputDir(root string, tournamentID uuid.UUID, epoch uint64, participantID string) string {
	return filepath.Join(root, tournamentID.String(), strconv.FormatUint(epoch, 10), participantID)
}

// Transfer is one row of the transfers table, the ground table every
// claimed pattern hop is traced against.
type Transfer struct {
	From      string
	To        string
	Amount    string
	Asset     string
	BlockTime int64
}

// LoadTransfers reads the transfers artifact of a dataset directory.
func LoadTransfers(dir string) ([]Transfer, error) {
	f, err := os.Open(filepath.Join(dir, TransfersFile)) // #nosec G304 -- operator-supplied dataset root
	if err != nil {
		return nil, errors.Wrap(err, "could not open transfers")
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Could not close transfers file")
		}
	}()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "could not read transfers header")
	}
	cols, err := columnIndices(header, "from_address", "to_address", "amount", "asset", "block_time")
	if err != nil {
		return nil, err
	}

	var transfers []Transfer
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not read transfers line %d", line)
		}
		blockTime, err := strconv.ParseInt(record[cols["block_time"]], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad block_time on transfers line %d", line)
		}
		transfers = append(transfers, Transfer{
			From:      record[cols["from_address"]],
			To:        record[cols["to_address"]],
			Amount:    record[cols["amount"]],
			Asset:     record[cols["asset"]],
			BlockTime: blockTime,
		})
	}
	return transfers, nil
}

// LoadGroundTruthIDs reads the validator-only ground truth artifact and
// returns the set of injected pattern instance ids.
func LoadGroundTruthIDs(dir string) (map[string]bool, error) {
	f, err := os.Open(filepath.Join(dir, GroundTruthFile)) // #nosec G304 -- operator-supplied dataset root
	if err != nil {
		return nil, errors.Wrap(err, "could not open ground truth")
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Error("Could not close ground truth file")
		}
	}()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "could not read ground truth header")
	}
	cols, err := columnIndices(header, "pattern_id")
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not read ground truth line %d", line)
		}
		id := record[cols["pattern_id"]]
		if id == "" {
			return nil, errors.Errorf("empty pattern_id on ground truth line %d", line)
		}
		ids[id] = true
	}
	return ids, nil
}

func columnIndices(header []string, required ...string) (map[string]int, error) {
	indices := make(map[string]int, len(header))
	for i, name := range header {
		indices[name] = i
	}
	for _, name := range required {
		if _, ok := indices[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}
	return indices, nil
}
