package intel

import (
	"context"
	"fmt"
	"time"

	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
)

// Congestion parameters.
const (
	congestionRadiusDeg    = 0.5 // lat/lon degree box around the port
	congestionReportMaxAge = 6 * time.Hour
	hoursPerAnchoredVessel = 2.5
	historicalWindow       = 30 * 24 * time.Hour
	waitRangeLow           = 0.8
	waitRangeHigh          = 1.3

	greenWaitCeilingHours  = 2.0
	yellowWaitCeilingHours = 8.0
)

// AnalyzeCongestion classifies expected waiting time at a location
// from recent nearby position reports. Missing coordinates or an empty
// area are the defined no-data path: neutral GREEN with a "no_data"
// factor, never an error.
func (a *Aggregator) AnalyzeCongestion(ctx context.Context, loc domain.Location) (domain.CongestionAnalysis, error) {
	if !loc.HasCoordinates() {
		return noDataCongestion("no_coordinates"), nil
	}

	now := a.now()
	reports, err := a.positions.PositionsNear(ctx, *loc.Lat, *loc.Lon, congestionRadiusDeg, now.Add(-congestionReportMaxAge))
	if err != nil {
		return domain.CongestionAnalysis{}, err
	}
	if len(reports) == 0 {
		return noDataCongestion("no_data"), nil
	}

	var moored, anchored int
	for _, r := range reports {
		// Allow-list of navigation statuses; anything else (fishing,
		// restricted manoeuvrability, ...) is noise for wait estimation.
		switch r.NavStatus {
		case domain.NavStatusMoored:
			moored++
		case domain.NavStatusAnchored:
			anchored++
		case domain.NavStatusUnderway:
			// transiting; counts toward neither queue
		}
	}

	wait := float64(anchored) * hoursPerAnchoredVessel
	factors := []string{fmt.Sprintf("anchored:%d", anchored), fmt.Sprintf("moored:%d", moored)}

	// A worse 30-day average overrides upward, never downward.
	if histAvg, n, err := a.store.AvgWaitSince(ctx, loc.ID, now.Add(-historicalWindow)); err == nil && n > 0 && histAvg > wait {
		wait = histAvg
		factors = append(factors, "historical_override")
	}

	analysis := domain.CongestionAnalysis{
		Status:             classifyWait(wait),
		WaitTimeMinHours:   wait * waitRangeLow,
		WaitTimeMaxHours:   wait * waitRangeHigh,
		VesselsInPort:      moored,
		VesselsAtAnchorage: anchored,
		BerthAvailability:  berthAvailability(moored),
		PilotAvailability:  pilotAvailability(anchored),
		Factors:            factors,
	}
	analysis.Recommendation = recommendation(analysis.Status, wait)
	return analysis, nil
}

func noDataCongestion(tag string) domain.CongestionAnalysis {
	return domain.CongestionAnalysis{
		Status:            domain.CongestionGreen,
		BerthAvailability: "UNKNOWN",
		PilotAvailability: "AVAILABLE",
		Factors:           []string{tag},
		Recommendation:    "no recent traffic data; proceed as planned",
	}
}

func classifyWait(hours float64) domain.CongestionStatus {
	switch {
	case hours <= greenWaitCeilingHours:
		return domain.CongestionGreen
	case hours <= yellowWaitCeilingHours:
		return domain.CongestionYellow
	default:
		return domain.CongestionRed
	}
}

func berthAvailability(moored int) string {
	switch {
	case moored < 5:
		return "AVAILABLE"
	case moored < 10:
		return "MODERATE"
	default:
		return "LIMITED"
	}
}

func pilotAvailability(anchored int) string {
	if anchored > 8 {
		return "DELAYED"
	}
	return "AVAILABLE"
}

func recommendation(status domain.CongestionStatus, wait float64) string {
	switch status {
	case domain.CongestionRed:
		return fmt.Sprintf("expect ~%.0fh at anchor; consider slowing to save fuel", wait)
	case domain.CongestionYellow:
		return fmt.Sprintf("moderate queue (~%.0fh); confirm berth window with agent", wait)
	default:
		return "port clear; proceed as planned"
	}
}

// Snapshot records the current congestion picture for one location,
// feeding the 30-day historical override.
func (a *Aggregator) Snapshot(ctx context.Context, loc domain.Location) error {
	analysis, err := a.AnalyzeCongestion(ctx, loc)
	if err != nil {
		return err
	}
	avgWait := (analysis.WaitTimeMinHours + analysis.WaitTimeMaxHours) / 2
	return a.store.InsertCongestionSnapshot(ctx, domain.CongestionSnapshot{
		LocationID:         loc.ID,
		At:                 a.now(),
		VesselsInPort:      analysis.VesselsInPort,
		VesselsAtAnchorage: analysis.VesselsAtAnchorage,
		AvgWaitTimeHours:   avgWait,
	})
}

// SnapshotActiveDestinations snapshots every distinct destination with
// an active arrival.
func (a *Aggregator) SnapshotActiveDestinations(ctx context.Context) error {
	arrivals, err := a.store.ActiveArrivals(ctx)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, arr := range arrivals {
		if seen[arr.LocationID] {
			continue
		}
		seen[arr.LocationID] = true
		loc, err := a.store.GetLocation(ctx, arr.LocationID)
		if err != nil {
			a.log.Warn("snapshot location lookup failed", logx.String("location", arr.LocationID), logx.Err(err))
			continue
		}
		if err := a.Snapshot(ctx, loc); err != nil {
			a.log.Warn("congestion snapshot failed", logx.String("location", loc.ID), logx.Err(err))
		}
	}
	return nil
}
