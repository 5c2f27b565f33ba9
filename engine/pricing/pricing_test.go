package pricing

import (
	"math"
	"testing"
)

func TestCalculateBreakdown(t *testing.T) {
	in := Inputs{CarPrice: 100000, Shipping: 5000, BrokerFee: 3000, PlatformFee: 2000}
	got := Calculate(in, 3.75)

	if got.CarPriceSAR != 375000 {
		t.Fatalf("car price SAR = %v, want 375000", got.CarPriceSAR)
	}
	if got.CustomsFees != 18750 {
		t.Fatalf("customs = %v, want 18750", got.CustomsFees)
	}
	if got.VAT != 59062.5 {
		t.Fatalf("vat = %v, want 59062.5", got.VAT)
	}
	if got.ShippingSAR != 18750 {
		t.Fatalf("shipping SAR = %v, want 18750", got.ShippingSAR)
	}
	if got.BrokerFeeSAR != 11250 {
		t.Fatalf("broker SAR = %v, want 11250", got.BrokerFeeSAR)
	}
	if got.Total != 484812.5 {
		t.Fatalf("total = %v, want 484812.5", got.Total)
	}
}

func TestCalculatePure(t *testing.T) {
	in := Inputs{CarPrice: 42000, Shipping: 1200, BrokerFee: 800, PlatformFee: 2000}
	a := Calculate(in, DefaultRate)
	b := Calculate(in, DefaultRate)
	if a != b {
		t.Fatalf("Calculate is not deterministic: %+v vs %+v", a, b)
	}
}

func TestCalculateClampsBadInput(t *testing.T) {
	got := Calculate(Inputs{CarPrice: -5000, Shipping: math.NaN(), BrokerFee: math.Inf(1)}, 3.75)
	if got.CarPriceUSD != 0 || got.ShippingUSD != 0 || got.BrokerFeeUSD != 0 {
		t.Fatalf("negative/NaN/Inf inputs must coerce to 0, got %+v", got)
	}
	if got.Total != 0 {
		t.Fatalf("total = %v, want 0", got.Total)
	}
	if math.IsNaN(got.Total) {
		t.Fatal("NaN propagated into the breakdown")
	}
}

func TestCalculateBadRateFallsBack(t *testing.T) {
	want := Calculate(Inputs{CarPrice: 1000}, DefaultRate)
	for _, rate := range []float64{0, -1, math.NaN()} {
		got := Calculate(Inputs{CarPrice: 1000}, rate)
		if got != want {
			t.Fatalf("rate %v: got %+v, want default-rate result %+v", rate, got, want)
		}
	}
}

func TestCalculateZeroInputs(t *testing.T) {
	got := Calculate(Inputs{}, DefaultRate)
	if got.Total != 0 || got.VAT != 0 || got.CustomsFees != 0 {
		t.Fatalf("zero inputs must yield zero breakdown, got %+v", got)
	}
}
