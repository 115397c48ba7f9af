package geofence

import (
	"fmt"
	"time"

	"anchorwatch/internal/domain"
)

// Speed and range constants for the ETA rule table.
const (
	FallbackSpeedKn    = 12.0
	MinPlausibleSpeed  = 1.0
	MaxPlausibleSpeed  = 25.0
	longRangeNM        = 300.0
	bestCaseSpeedMult  = 1.1
	worstCaseSpeedMult = 0.85
)

// ComputeETA derives the three-point ETA band from distance and
// reported speed. Confidence comes from a fixed rule table, kept
// deterministic on purpose:
//
//	speed < 1 kn or missing  -> fallback 12 kn, LOW
//	1-25 kn, distance <= 300 -> HIGH
//	1-25 kn, distance > 300  -> MEDIUM
//	speed > 25 kn            -> reported speed, MEDIUM
func ComputeETA(distanceNM, speedKn float64, now time.Time) domain.ETA {
	var (
		conf    domain.ETAConfidence
		factors []string
	)
	effective := speedKn
	switch {
	case speedKn < MinPlausibleSpeed:
		effective = FallbackSpeedKn
		conf = domain.ConfidenceLow
		factors = append(factors, "fallback_speed")
	case speedKn > MaxPlausibleSpeed:
		conf = domain.ConfidenceMedium
		factors = append(factors, "speed_above_plausible")
	case distanceNM > longRangeNM:
		conf = domain.ConfidenceMedium
		factors = append(factors, "long_range")
	default:
		conf = domain.ConfidenceHigh
		factors = append(factors, fmt.Sprintf("speed_%.1fkn", speedKn))
	}

	hours := distanceNM / effective
	return domain.ETA{
		BestCase:   now.Add(durationHours(distanceNM / (effective * bestCaseSpeedMult))),
		MostLikely: now.Add(durationHours(hours)),
		WorstCase:  now.Add(durationHours(distanceNM / (effective * worstCaseSpeedMult))),
		Confidence: conf,
		Factors:    factors,
	}
}

func durationHours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
