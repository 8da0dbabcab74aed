// Package flow verifies claimed pattern paths against the dataset's
// transfers table. Every reported pattern is traced hop by hop, so a
// fabricated pattern is detectable no matter how plausible it looks.
package flow

import (
	"sort"

	"github.com/chainswarm/subnet2/validator/dataset"
)

// TransferIndex buckets transfers by from-address so per-hop membership
// checks are O(1) expected. Built once per dataset; memory is
// proportional to the transfer count.
type TransferIndex struct {
	// from -> to -> sorted block times of matching transfers.
	edges map[string]map[string][]int64
}

// NewTransferIndex builds the from-address index over a transfers table.
func NewTransferIndex(transfers []dataset.Transfer) *TransferIndex {
	edges := make(map[string]map[string][]int64)
	for _, tr := range transfers {
		byTo, ok := edges[tr.From]
		if !ok {
			byTo = make(map[string][]int64)
			edges[tr.From] = byTo
		}
		byTo[tr.To] = append(byTo[tr.To], tr.BlockTime)
	}
	for _, byTo := range edges {
		for to := range byTo {
			times := byTo[to]
			sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
		}
	}
	return &TransferIndex{edges: edges}
}

// FlowsExist reports whether every adjacent pair of the address path
// appears as a transfer row. Direction is significant; multiplicity is
// irrelevant.
func (ix *TransferIndex) FlowsExist(path []string) bool {
	if len(path) < 2 {
		return false
	}
	for i := 0; i < len(path)-1; i++ {
		byTo, ok := ix.edges[path[i]]
		if !ok {
			return false
		}
		if _, ok := byTo[path[i+1]]; !ok {
			return false
		}
	}
	return true
}

// Verify checks a pattern path, additionally matching hop timestamps
// when the pattern carries them: one timestamp per hop, non-decreasing,
// each backed by a transfer row at exactly that block time.
func (ix *TransferIndex) Verify(path []string, hopTimestamps []int64) bool {
	if len(hopTimestamps) == 0 {
		return ix.FlowsExist(path)
	}
	if len(path) < 2 || len(hopTimestamps) != len(path)-1 {
		return false
	}
	for i := 0; i < len(hopTimestamps); i++ {
		if i > 0 && hopTimestamps[i] < hopTimestamps[i-1] {
			return false
		}
		byTo, ok := ix.edges[path[i]]
		if !ok {
			return false
		}
		times, ok := byTo[path[i+1]]
		if !ok {
			return false
		}
		j := sort.Search(len(times), func(k int) bool { return times[k] >= hopTimestamps[i] })
		if j == len(times) || times[j] != hopTimestamps[i] {
			return false
		}
	}
	return true
}
