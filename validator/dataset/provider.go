package dataset

import (
	"time"

	"github.com/dustin/go-humanize"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	cacheExpiration = 6 * time.Hour
	cacheCleanup    = time.Hour
)

// Provider loads dataset artifacts and memoizes them per (network, date)
// so that the per-submission evaluation loop of an epoch parses each
// dataset once.
type Provider struct {
	layout Layout
	cache  *gocache.Cache
}

// NewProvider returns a provider over the given dataset layout.
func NewProvider(layout Layout) *Provider {
	return &Provider{
		layout: layout,
		cache:  gocache.New(cacheExpiration, cacheCleanup),
	}
}

// Dir returns the dataset directory for a network and test date.
func (p *Provider) Dir(network string, date time.Time) string {
	return p.layout.Dir(network, date)
}

// Transfers returns the transfers table for a (network, date) dataset.
func (p *Provider) Transfers(network string, date time.Time) ([]Transfer, error) {
	key := "transfers/" + network + "/" + date.UTC().Format("2006-01-02")
	if cached, ok := p.cache.Get(key); ok {
		return cached.([]Transfer), nil
	}
	dir := p.layout.Dir(network, date)
	transfers, err := LoadTransfers(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %s", dir)
	}
	log.WithFields(logrus.Fields{
		"dir":  dir,
		"rows": humanize.Comma(int64(len(transfers))),
	}).Info("Loaded transfers table")
	p.cache.SetDefault(key, transfers)
	return transfers, nil
}

// GroundTruthIDs returns the injected pattern ids for a (network, date)
// dataset.
func (p *Provider) GroundTruthIDs(network string, date time.Time) (map[string]bool, error) {
	key := "ground-truth/" + network + "/" + date.UTC().Format("2006-01-02")
	if cached, ok := p.cache.Get(key); ok {
		return cached.(map[string]bool), nil
	}
	dir := p.layout.Dir(network, date)
	ids, err := LoadGroundTruthIDs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %s", dir)
	}
	p.cache.SetDefault(key, ids)
	return ids, nil
}
