// Package outputs validates the two artifacts a payload must produce in
// its output directory. Validation is the hard gate before scoring: an
// invalid artifact zeroes the run.
package outputs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Artifact file names a payload must emit.
const (
	FeaturesFile = "features.csv"
	PatternsFile = "patterns.csv"
)

// Kind is the element type of a declared feature column.
type Kind string

// Column kinds.
const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
)

// Column is one declared feature column.
type Column struct {
	Name string
	Kind Kind
}

// DefaultFeatureSchema is the address-keyed feature table payloads must
// produce. The address column is the primary key.
var DefaultFeatureSchema = []Column{
	{Name: "address", Kind: KindString},
	{Name: "degree_in", Kind: KindInt},
	{Name: "degree_out", Kind: KindInt},
	{Name: "total_amount_in", Kind: KindFloat},
	{Name: "total_amount_out", Kind: KindFloat},
	{Name: "tx_count", Kind: KindInt},
	{Name: "unique_counterparties", Kind: KindInt},
	{Name: "activity_span_hours", Kind: KindFloat},
}

// PatternTypes enumerates the accepted pattern_type values.
var PatternTypes = map[string]bool{
	"cycle":            true,
	"layering_path":    true,
	"smurfing_network": true,
	"proximity_risk":   true,
	"motif_fanin":      true,
	"motif_fanout":     true,
	"temporal_burst":   true,
	"threshold_evasion": true,
}

// FeatureSet is the outcome of validating the features artifact. When
// Valid is false, Reason holds the first violation found.
type FeatureSet struct {
	Valid     bool
	Reason    string
	Addresses map[string]bool
}

// Pattern is one validated row of the patterns artifact.
type Pattern struct {
	ID            string
	Type          string
	AddressPath   []string
	HopTimestamps []int64
}

// PatternSet is the outcome of validating the patterns artifact.
type PatternSet struct {
	Valid    bool
	Reason   string
	Patterns []Pattern
}

func invalidFeatures(format string, args ...interface{}) *FeatureSet {
	return &FeatureSet{Reason: fmt.Sprintf(format, args...)}
}

// ValidateFeatures checks the features artifact against the declared
// schema: all columns present with the correct element type, non-empty,
// no null and no duplicate primary keys.
func ValidateFeatures(path string, schema []Column) *FeatureSet {
	f, err := os.Open(path) // #nosec G304 -- path is engine-constructed
	if err != nil {
		return invalidFeatures("could not open features artifact: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return invalidFeatures("could not read features header: %v", err)
	}
	indices := make(map[string]int, len(header))
	for i, name := range header {
		indices[name] = i
	}
	for _, col := range schema {
		if _, ok := indices[col.Name]; !ok {
			return invalidFeatures("missing feature column %q", col.Name)
		}
	}
	pkIdx := indices[schema[0].Name]

	addresses := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return invalidFeatures("bad features row at line %d: %v", line, err)
		}
		pk := record[pkIdx]
		if pk == "" {
			return invalidFeatures("null primary key at line %d", line)
		}
		if addresses[pk] {
			return invalidFeatures("duplicate primary key %q at line %d", pk, line)
		}
		for _, col := range schema {
			if err := checkCell(record[indices[col.Name]], col.Kind); err != nil {
				return invalidFeatures("column %q at line %d: %v", col.Name, line, err)
			}
		}
		addresses[pk] = true
	}
	if len(addresses) == 0 {
		return invalidFeatures("features artifact is empty")
	}
	return &FeatureSet{Valid: true, Addresses: addresses}
}

func checkCell(value string, kind Kind) error {
	switch kind {
	case KindString:
		return nil
	case KindInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("%q is not an integer", value)
		}
	case KindFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("%q is not a float", value)
		}
	default:
		return fmt.Errorf("unknown column kind %q", kind)
	}
	return nil
}

func invalidPatterns(format string, args ...interface{}) *PatternSet {
	return &PatternSet{Reason: fmt.Sprintf(format, args...)}
}

// ValidatePatterns checks the patterns artifact: known pattern types, an
// address path of at least two hops, unique pattern ids, optional hop
// timestamps of the right arity, and every referenced address present in
// the validated feature set.
func ValidatePatterns(path string, featureAddresses map[string]bool) *PatternSet {
	f, err := os.Open(path) // #nosec G304 -- path is engine-constructed
	if err != nil {
		return invalidPatterns("could not open patterns artifact: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return invalidPatterns("could not read patterns header: %v", err)
	}
	indices := make(map[string]int, len(header))
	for i, name := range header {
		indices[name] = i
	}
	for _, name := range []string{"pattern_id", "pattern_type", "address_path"} {
		if _, ok := indices[name]; !ok {
			return invalidPatterns("missing pattern column %q", name)
		}
	}
	tsIdx, hasTs := indices["hop_timestamps"]

	var patterns []Pattern
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return invalidPatterns("bad patterns row at line %d: %v", line, err)
		}
		id := record[indices["pattern_id"]]
		if id == "" {
			return invalidPatterns("empty pattern_id at line %d", line)
		}
		if seen[id] {
			return invalidPatterns("duplicate pattern_id %q at line %d", id, line)
		}
		seen[id] = true

		typ := record[indices["pattern_type"]]
		if !PatternTypes[typ] {
			return invalidPatterns("unknown pattern_type %q at line %d", typ, line)
		}

		addrPath := strings.Split(record[indices["address_path"]], "|")
		if len(addrPath) < 2 {
			return invalidPatterns("address_path shorter than two hops at line %d", line)
		}
		for _, addr := range addrPath {
			if !featureAddresses[addr] {
				return invalidPatterns("pattern %q references address %q missing from features", id, addr)
			}
		}

		var hopTimes []int64
		if hasTs && record[tsIdx] != "" {
			for _, raw := range strings.Split(record[tsIdx], "|") {
				ts, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return invalidPatterns("bad hop timestamp %q at line %d", raw, line)
				}
				hopTimes = append(hopTimes, ts)
			}
			if len(hopTimes) != len(addrPath)-1 {
				return invalidPatterns("pattern %q carries %d hop timestamps for %d hops", id, len(hopTimes), len(addrPath)-1)
			}
		}

		patterns = append(patterns, Pattern{
			ID:            id,
			Type:          typ,
			AddressPath:   addrPath,
			HopTimestamps: hopTimes,
		})
	}
	return &PatternSet{Valid: true, Patterns: patterns}
}
