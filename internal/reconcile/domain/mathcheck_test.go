package reconcile

import "testing"

func TestCheckPriceCoherence(t *testing.T) {
	c := NewMathChecker(DefaultMathCheckConfig())

	coherent := RawLine{Description: "Lager 24x330ml", Quantity: 2, UnitPrice: 21.60, LineTotal: 43.20}
	flags := c.ValidateLine(coherent, CanonicalQuantities{Packs: 2, UnitsPerPack: 24, QuantityEach: 48})
	if flags.Has(FlagPriceIncoherent) {
		t.Fatalf("coherent line flagged: %v", flags.Values())
	}

	incoherent := RawLine{Description: "Lager 24x330ml", Quantity: 2, UnitPrice: 21.60, LineTotal: 40.00}
	flags = c.ValidateLine(incoherent, CanonicalQuantities{Packs: 2, UnitsPerPack: 24, QuantityEach: 48})
	if !flags.Has(FlagPriceIncoherent) {
		t.Fatalf("incoherent line not flagged: %v", flags.Values())
	}
}

func TestCheckPriceCoherenceLargeDiscountCarveOut(t *testing.T) {
	c := NewMathChecker(DefaultMathCheckConfig())
	// 46.8% off £60.55: a deliberate discount, not a math error.
	line := RawLine{Description: "Tia Maria 70cl", Quantity: 1, UnitPrice: 60.55, LineTotal: 32.22}
	flags := c.ValidateLine(line, CanonicalQuantities{Packs: 1, UnitsPerPack: 1, QuantityEach: 1})
	if flags.Has(FlagPriceIncoherent) {
		t.Fatalf("large intentional discount flagged as incoherent")
	}
}

func TestCheckPriceCoherenceFOC(t *testing.T) {
	c := NewMathChecker(DefaultMathCheckConfig())
	line := RawLine{Description: "Ice bucket FOC", Quantity: 1, UnitPrice: 12.50, LineTotal: 0}
	flags := c.ValidateLine(line, CanonicalQuantities{Packs: 1, UnitsPerPack: 1, QuantityEach: 1})
	if flags.Has(FlagPriceIncoherent) {
		t.Fatalf("FOC line flagged as incoherent")
	}
	if !flags.Has(FlagFOCLine) {
		t.Fatalf("FOC line not flagged FOC_LINE")
	}
}

func TestCheckPackDescriptor(t *testing.T) {
	c := NewMathChecker(DefaultMathCheckConfig())

	line := RawLine{Quantity: 2, UnitPrice: 10, LineTotal: 20}
	consistent := CanonicalQuantities{Packs: 2, UnitsPerPack: 12, QuantityEach: 24}
	if flags := c.ValidateLine(line, consistent); flags.Has(FlagPackMismatch) {
		t.Fatalf("consistent pack descriptor flagged")
	}

	mismatched := CanonicalQuantities{Packs: 2, UnitsPerPack: 12, QuantityEach: 30}
	if flags := c.ValidateLine(line, mismatched); !flags.Has(FlagPackMismatch) {
		t.Fatalf("pack mismatch not flagged")
	}

	partial := CanonicalQuantities{Packs: 0, UnitsPerPack: 12, QuantityEach: 12}
	if flags := c.ValidateLine(line, partial); !flags.Has(FlagPackDescriptorPartial) {
		t.Fatalf("partial pack descriptor not flagged")
	}
}

func TestCheckInvoiceTotals(t *testing.T) {
	c := NewMathChecker(DefaultMathCheckConfig())

	rate := 20.0
	ok := c.CheckInvoiceTotals(100.00, 20.00, &rate, 120.00)
	if len(ok) != 0 {
		t.Fatalf("valid totals flagged: %v", ok.Values())
	}

	badVAT := c.CheckInvoiceTotals(100.00, 17.50, &rate, 117.50)
	if !badVAT.Has(FlagVATMismatch) {
		t.Fatalf("VAT mismatch not flagged: %v", badVAT.Values())
	}

	badTotal := c.CheckInvoiceTotals(100.00, 20.00, &rate, 121.00)
	if !badTotal.Has(FlagSubtotalMismatch) {
		t.Fatalf("subtotal mismatch not flagged: %v", badTotal.Values())
	}

	noRate := c.CheckInvoiceTotals(100.00, 20.00, nil, 120.00)
	if len(noRate) != 0 {
		t.Fatalf("totals without rate flagged: %v", noRate.Values())
	}
}

func TestBankerRound2(t *testing.T) {
	// Halves chosen to be binary-exact so the half-to-even behaviour is
	// actually exercised.
	cases := []struct {
		in, want float64
	}{
		{0.125, 0.12},
		{0.375, 0.38},
		{-0.125, -0.12},
		{10.0, 10.0},
	}
	for _, tc := range cases {
		if got := bankerRound2(tc.in); got != tc.want {
			t.Fatalf("bankerRound2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
