package intel

import (
	"context"
	"fmt"
	"math"

	"anchorwatch/internal/domain"
)

// Historical-average parameters.
const (
	gtSimilarityTolerance = 0.20 // ±20% gross tonnage
	historicalSampleLimit = 10
	historicalRangeSpread = 0.15 // ±15% around the mean
	confidenceFloor       = 0.5
	confidenceCeil        = 0.95
)

// Tariff fallback parameters. Rates are documented defaults, not a
// live tariff feed; the forecast carries confidence 0.65 to match.
const (
	tariffPortDuesPerGT  = 0.15
	tariffPilotageBase   = 3000.0
	tariffPilotagePerLOA = 8.0 // per metre of length
	tariffPerTug         = 2500.0
	tariffMooring        = 1500.0
	tariffFreshWater     = 800.0
	tariffWasteDisposal  = 600.0
	tariffSecurityFee    = 400.0
	tariffMiscellaneous  = 500.0
	tariffAgencyPct      = 0.025
	tariffRangeSpread    = 0.20
	tariffConfidence     = 0.65
)

// ForecastCost produces the three-point estimate for an asset calling
// at a location. Historical average is preferred; the tariff model is
// the no-data fallback. The method tag records which one ran.
func (a *Aggregator) ForecastCost(ctx context.Context, asset domain.TrackedAsset, locationID string) (domain.CostForecast, error) {
	samples, err := a.store.RecentPortCallCosts(ctx, locationID, asset.GrossTonnage, gtSimilarityTolerance, historicalSampleLimit)
	if err != nil {
		return domain.CostForecast{}, err
	}
	if len(samples) > 0 {
		return historicalForecast(samples), nil
	}
	return tariffForecast(asset), nil
}

func historicalForecast(samples []domain.PortCallCost) domain.CostForecast {
	var sum float64
	for _, s := range samples {
		sum += s.TotalCost
	}
	mean := sum / float64(len(samples))

	// Confidence is inverse to sample spread: 1 - CV, clamped.
	var variance float64
	for _, s := range samples {
		d := s.TotalCost - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	cv := 0.0
	if mean > 0 {
		cv = math.Sqrt(variance) / mean
	}
	confidence := clamp(1-cv, confidenceFloor, confidenceCeil)

	return domain.CostForecast{
		EstimateMin:        mean * (1 - historicalRangeSpread),
		EstimateMax:        mean * (1 + historicalRangeSpread),
		EstimateMostLikely: mean,
		Confidence:         confidence,
		Breakdown:          map[string]float64{"historical_mean": mean},
		Factors:            []string{"historical_avg", sampleTag(len(samples))},
		Method:             domain.MethodHistoricalAvg,
	}
}

func tariffForecast(asset domain.TrackedAsset) domain.CostForecast {
	gt := asset.GrossTonnage
	if gt <= 0 {
		gt = 25000 // typical handysize default when tonnage is unknown
	}
	loa := asset.LengthM
	if loa <= 0 {
		loa = 180
	}

	breakdown := map[string]float64{
		"port_dues":      gt * tariffPortDuesPerGT,
		"pilotage":       tariffPilotageBase + loa*tariffPilotagePerLOA,
		"towage":         float64(tugCount(gt)) * tariffPerTug,
		"mooring":        tariffMooring,
		"fresh_water":    tariffFreshWater,
		"waste_disposal": tariffWasteDisposal,
		"security_fee":   tariffSecurityFee,
		"miscellaneous":  tariffMiscellaneous,
	}
	var subtotal float64
	for _, v := range breakdown {
		subtotal += v
	}
	breakdown["agency_fee"] = subtotal * tariffAgencyPct
	total := subtotal + breakdown["agency_fee"]

	factors := []string{"tariff_based", "no_historical_data"}
	if asset.GrossTonnage <= 0 {
		factors = append(factors, "assumed_tonnage")
	}
	return domain.CostForecast{
		EstimateMin:        total * (1 - tariffRangeSpread),
		EstimateMax:        total * (1 + tariffRangeSpread),
		EstimateMostLikely: total,
		Confidence:         tariffConfidence,
		Breakdown:          breakdown,
		Factors:            factors,
		Method:             domain.MethodTariffBased,
	}
}

func tugCount(gt float64) int {
	switch {
	case gt > 50000:
		return 3
	case gt > 20000:
		return 2
	default:
		return 1
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sampleTag(n int) string {
	if n == 1 {
		return "1_sample"
	}
	return fmt.Sprintf("%d_samples", n)
}
