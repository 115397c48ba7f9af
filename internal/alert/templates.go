package alert

import (
	"fmt"
	"strings"
	"time"

	"anchorwatch/internal/domain"
)

// renderTitle and renderBody turn trigger metadata into the
// human-readable message. Each branch matches one concrete metadata
// type; the switch is exhaustive over the trigger kinds.

func renderTitle(assetName string, meta domain.TriggerMetadata) string {
	switch m := meta.(type) {
	case domain.ProximityMeta:
		return fmt.Sprintf("%s approaching: %.0f nm to destination", assetName, m.DistanceNM)
	case domain.DocumentMissingMeta:
		return fmt.Sprintf("%s: %d critical document(s) missing", assetName, len(m.Documents))
	case domain.DocumentDeadlineMeta:
		return fmt.Sprintf("%s: %s due in %.0fh", assetName, m.DocumentType, m.HoursRemaining)
	case domain.DocumentOverdueMeta:
		return fmt.Sprintf("%s: %s overdue", assetName, m.DocumentType)
	case domain.CongestionMeta:
		return fmt.Sprintf("%s: destination congestion %s", assetName, m.Status)
	case domain.ETAChangeMeta:
		return fmt.Sprintf("%s: ETA shifted %+.1fh", assetName, m.DeltaHours)
	case domain.CostAnomalyMeta:
		return fmt.Sprintf("%s: cost estimate %.0f%% above typical", assetName, m.PercentAbove)
	default:
		return assetName + ": alert"
	}
}

func renderBody(assetName string, meta domain.TriggerMetadata) string {
	var b strings.Builder
	switch m := meta.(type) {
	case domain.ProximityMeta:
		fmt.Fprintf(&b, "%s has entered the arrival zone.\n", assetName)
		fmt.Fprintf(&b, "Distance: %.1f nm\n", m.DistanceNM)
		if m.SpeedKn > 0 {
			fmt.Fprintf(&b, "Speed: %.1f kn\n", m.SpeedKn)
		}
		fmt.Fprintf(&b, "Estimated arrival: %s\n", m.ETA.UTC().Format(time.RFC1123))
	case domain.DocumentMissingMeta:
		fmt.Fprintf(&b, "Critical mandatory documents are still missing for %s:\n", assetName)
		for _, d := range m.Documents {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
		fmt.Fprintf(&b, "Time to arrival: %.0fh\n", m.HoursToETA)
	case domain.DocumentDeadlineMeta:
		fmt.Fprintf(&b, "%s must be filed within %.1fh (%dh threshold crossed).\n",
			m.DocumentType, m.HoursRemaining, m.ThresholdHours)
	case domain.DocumentOverdueMeta:
		fmt.Fprintf(&b, "%s is %.1fh past its filing deadline.\n", m.DocumentType, m.HoursOverdue)
		b.WriteString("Late filing may delay clearance on arrival.\n")
	case domain.CongestionMeta:
		fmt.Fprintf(&b, "Destination congestion is %s.\n", m.Status)
		fmt.Fprintf(&b, "Vessels at anchorage: %d\n", m.VesselsAtAnchorage)
		fmt.Fprintf(&b, "Expected wait: %.1f-%.1fh\n", m.WaitTimeMinHours, m.WaitTimeMaxHours)
	case domain.ETAChangeMeta:
		fmt.Fprintf(&b, "Estimated arrival moved from %s to %s (%+.1fh).\n",
			m.PreviousETA.UTC().Format(time.RFC1123), m.NewETA.UTC().Format(time.RFC1123), m.DeltaHours)
	case domain.CostAnomalyMeta:
		fmt.Fprintf(&b, "Current estimate %.0f is %.0f%% above the %d-call historical mean of %.0f.\n",
			m.Estimate, m.PercentAbove, m.SampleCount, m.HistoricalMean)
		b.WriteString("Review the cost breakdown before confirming services.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
