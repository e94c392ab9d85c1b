package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/dmarcauth"
)

func TestEveryCounterHasADefinition(t *testing.T) {
	seen := map[dmarcauth.MetricID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if seen[def.ID] || names[def.Name] {
			t.Fatalf("duplicate definition %+v", def)
		}
		if !strings.HasPrefix(def.Name, "dmarcauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		seen[def.ID] = true
	}
	if len(seen) != dmarcauth.MetricCount {
		t.Fatalf("%d of %d metrics defined", len(seen), dmarcauth.MetricCount)
	}
	if len(HistogramUpperBounds)+1 != len(HistogramBounds) || len(HistogramBounds) != dmarcauth.LatencyBucketCount {
		t.Fatal("histogram bound tables disagree")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := Buckets{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}
