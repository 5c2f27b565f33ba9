// Package pricing computes the multi-currency landed-cost breakdown for an
// imported vehicle. Calculate is a pure function: identical inputs always
// yield identical outputs.
package pricing

import (
	"math"

	"github.com/carsgate/portal-engine/engine/domain"
)

// DefaultRate is the fixed USD→SAR conversion rate. It is a configuration
// constant, never re-derived at runtime.
const DefaultRate = 3.75

// Customs and VAT rates applied on the SAR side.
const (
	customsRate = 0.05
	vatRate     = 0.15
)

// Inputs are the four operator-editable amounts. Car price, shipping and
// broker fee are entered in USD; the platform fee in SAR.
type Inputs struct {
	CarPrice    float64 `json:"car_price_usd"`
	Shipping    float64 `json:"shipping_usd"`
	BrokerFee   float64 `json:"broker_fee_usd"`
	PlatformFee float64 `json:"platform_fee_sar"`
}

// Defaults used when a post has no saved pricing yet.
var Defaults = Inputs{Shipping: 5000, BrokerFee: 3000, PlatformFee: 2000}

// clamp coerces negative and non-finite amounts to 0 so bad input never
// propagates as NaN.
func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Calculate derives the full breakdown from the editable inputs at the given
// conversion rate. A rate <= 0 falls back to DefaultRate.
func Calculate(in Inputs, rate float64) domain.Pricing {
	if rate <= 0 || math.IsNaN(rate) {
		rate = DefaultRate
	}

	car := clamp(in.CarPrice)
	shipping := clamp(in.Shipping)
	broker := clamp(in.BrokerFee)
	platform := clamp(in.PlatformFee)

	carSAR := car * rate
	shippingSAR := shipping * rate
	brokerSAR := broker * rate
	customs := carSAR * customsRate
	vat := (carSAR + customs) * vatRate

	return domain.Pricing{
		CarPriceUSD:  car,
		ShippingUSD:  shipping,
		BrokerFeeUSD: broker,
		PlatformFee:  platform,
		CarPriceSAR:  carSAR,
		ShippingSAR:  shippingSAR,
		BrokerFeeSAR: brokerSAR,
		CustomsFees:  customs,
		VAT:          vat,
		Total:        carSAR + customs + vat + shippingSAR + brokerSAR + platform,
	}
}
