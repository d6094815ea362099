package reconcile

import (
	"testing"
	"time"
)

func testFingerprintInput() FingerprintInput {
	return FingerprintInput{
		SKUID:        "TIA001",
		QuantityEach: 6,
		UOMKey:       "volume_cl",
		UnitPriceRaw: 60.55,
		NettPrice:    32.22,
		NettValue:    193.32,
		Date:         time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
		SupplierID:   "SUP-042",
		RulesetID:    "rs-1",
	}
}

func TestFingerprintStability(t *testing.T) {
	fp, err := NewFingerprinter(EngineVersion)
	if err != nil {
		t.Fatalf("new fingerprinter: %v", err)
	}
	in := testFingerprintInput()

	first := fp.Compute(in)
	if len(first) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(first))
	}
	for i := 0; i < 4; i++ {
		if got := fp.Compute(in); got != first {
			t.Fatalf("fingerprint not stable on repeat %d: %s vs %s", i, got, first)
		}
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	fp, err := NewFingerprinter(EngineVersion)
	if err != nil {
		t.Fatalf("new fingerprinter: %v", err)
	}
	base := fp.Compute(testFingerprintInput())

	mutations := map[string]FingerprintInput{}
	in := testFingerprintInput()
	in.SKUID = "TIA002"
	mutations["sku_id"] = in
	in = testFingerprintInput()
	in.QuantityEach = 7
	mutations["quantity_each"] = in
	in = testFingerprintInput()
	in.UnitPriceRaw = 60.56
	mutations["unit_price"] = in
	in = testFingerprintInput()
	in.RulesetID = "rs-2"
	mutations["ruleset_id"] = in
	in = testFingerprintInput()
	in.Date = time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	mutations["date"] = in

	for field, mutated := range mutations {
		if got := fp.Compute(mutated); got == base {
			t.Fatalf("changing %s did not change the fingerprint", field)
		}
	}
}

func TestFingerprintEngineVersionSensitivity(t *testing.T) {
	v1, err := NewFingerprinter("1.0")
	if err != nil {
		t.Fatalf("new fingerprinter: %v", err)
	}
	v2, err := NewFingerprinter("1.1")
	if err != nil {
		t.Fatalf("new fingerprinter: %v", err)
	}
	in := testFingerprintInput()
	if v1.Compute(in) == v2.Compute(in) {
		t.Fatalf("engine version bump must change the fingerprint")
	}
}

func TestFingerprintFailureSentinel(t *testing.T) {
	if _, err := NewFingerprinter(""); err == nil {
		t.Fatalf("expected error for empty engine version")
	}
	var fp *Fingerprinter
	if got := fp.Compute(testFingerprintInput()); got != "" {
		t.Fatalf("nil fingerprinter must return the empty sentinel, got %q", got)
	}
}
