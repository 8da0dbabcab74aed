package flow

import (
	"testing"

	"github.com/chainswarm/subnet2/testing/assert"
	"github.com/chainswarm/subnet2/validator/dataset"
)

func testIndex() *TransferIndex {
	return NewTransferIndex([]dataset.Transfer{
		{From: "a", To: "b", BlockTime: 100},
		{From: "a", To: "b", BlockTime: 300},
		{From: "b", To: "c", BlockTime: 200},
		{From: "c", To: "d", BlockTime: 250},
		{From: "d", To: "a", BlockTime: 400},
	})
}

func TestFlowsExist(t *testing.T) {
	ix := testIndex()
	tests := []struct {
		name string
		path []string
		want bool
	}{
		{name: "simple chain", path: []string{"a", "b", "c"}, want: true},
		{name: "full cycle", path: []string{"a", "b", "c", "d", "a"}, want: true},
		{name: "missing hop", path: []string{"a", "c"}, want: false},
		{name: "direction matters", path: []string{"b", "a"}, want: false},
		{name: "unknown address", path: []string{"a", "x"}, want: false},
		{name: "too short", path: []string{"a"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ix.FlowsExist(tt.path))
		})
	}
}

func TestVerify_HopTimestamps(t *testing.T) {
	ix := testIndex()
	tests := []struct {
		name string
		path []string
		ts   []int64
		want bool
	}{
		{name: "no timestamps falls back to existence", path: []string{"a", "b", "c"}, ts: nil, want: true},
		{name: "monotonic match", path: []string{"a", "b", "c"}, ts: []int64{100, 200}, want: true},
		{name: "equal timestamps allowed", path: []string{"b", "c", "d"}, ts: []int64{200, 250}, want: true},
		{name: "non-monotonic rejected", path: []string{"a", "b", "c"}, ts: []int64{300, 200}, want: false},
		{name: "no transfer at claimed time", path: []string{"a", "b", "c"}, ts: []int64{150, 200}, want: false},
		{name: "wrong timestamp count", path: []string{"a", "b", "c"}, ts: []int64{100}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ix.Verify(tt.path, tt.ts))
		})
	}
}
