package domain

import "time"

// ArrivalStatus is the lifecycle state of an Arrival. The geofence
// monitor only ever creates APPROACHING; later transitions come from
// external events and are monotonic.
type ArrivalStatus string

const (
	StatusApproaching ArrivalStatus = "APPROACHING"
	StatusInAnchorage ArrivalStatus = "IN_ANCHORAGE"
	StatusBerthing    ArrivalStatus = "BERTHING"
	StatusInPort      ArrivalStatus = "IN_PORT"
	StatusDeparted    ArrivalStatus = "DEPARTED"
)

// Active reports whether the arrival still occupies the one-active-per
// (asset, location) slot.
func (s ArrivalStatus) Active() bool { return s != StatusDeparted }

// ETAConfidence tags how much the ETA band can be trusted. Derived
// from a fixed rule table in the geofence monitor, never a model.
type ETAConfidence string

const (
	ConfidenceHigh   ETAConfidence = "HIGH"
	ConfidenceMedium ETAConfidence = "MEDIUM"
	ConfidenceLow    ETAConfidence = "LOW"
)

// ETA is a three-point estimate plus its confidence tag and the
// qualitative factors that produced it. Estimates are never exposed as
// a bare scalar.
type ETA struct {
	BestCase   time.Time
	MostLikely time.Time
	WorstCase  time.Time
	Confidence ETAConfidence
	Factors    []string
}

// Arrival is the central aggregate: one per (asset, target location)
// pair while active.
type Arrival struct {
	ID         string
	AssetID    string
	LocationID string
	Status     ArrivalStatus

	// Geometry snapshot.
	DistanceNM      float64 // last computed distance
	EntryDistanceNM float64 // distance at first detection
	EntryLat        float64
	EntryLon        float64

	ETA ETA

	// LastAlertedETA is the most-likely ETA recorded when the last
	// ETA-change alert fired. The trigger engine compares against this
	// field rather than digging through alert history.
	LastAlertedETA *time.Time

	DetectedAt time.Time
	UpdatedAt  time.Time
}

// AuditEntry records a bounded field update on an arrival (ETA drift,
// status change) for operator review.
type AuditEntry struct {
	ID        int64
	ArrivalID string
	At        time.Time
	Kind      string // e.g. "eta_refresh", "document_overdue"
	Actor     string // "system" for scheduled work
	Detail    string
	MetaJSON  string
}
