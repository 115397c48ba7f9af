package domain

import (
	"context"
	"time"
)

// TrackedAsset is a vessel known to the ingestion side. The monitoring
// core reads assets and never mutates them.
type TrackedAsset struct {
	ID   string
	Name string
	IMO  string
	Type string

	// Physical characteristics used by the cost forecaster. Zero means
	// unknown; the forecaster estimates from the other fields.
	GrossTonnage float64
	LengthM      float64
	DeadweightT  float64

	// DestinationID is the target location the asset is bound for.
	// Empty means no active destination and the asset is skipped by the
	// geofence scan.
	DestinationID string
}

// Position is a single AIS-style position report.
type Position struct {
	AssetID    string
	Lat        float64
	Lon        float64
	SpeedKn    float64
	HeadingDeg float64
	// NavStatus uses AIS navigation status codes (0 = underway using
	// engine, 1 = at anchor, 5 = moored).
	NavStatus int
	Timestamp time.Time
}

// AIS navigation status codes relevant to congestion analysis.
const (
	NavStatusUnderway = 0
	NavStatusAnchored = 1
	NavStatusMoored   = 5
)

// PositionSource provides position reports. The production source is
// the position table fed by the AIS ingest; tests substitute fixtures.
type PositionSource interface {
	// LatestPositions returns the most recent report per asset.
	// Assets with no report at all are absent from the result.
	LatestPositions(ctx context.Context, assetIDs []string) ([]Position, error)

	// PositionsNear returns the most recent report per asset inside a
	// lat/lon degree box centered on (lat, lon), no older than since.
	PositionsNear(ctx context.Context, lat, lon, radiusDeg float64, since time.Time) ([]Position, error)
}

// Location is a destination port. Lat/Lon are nil when the port has no
// known coordinates; consumers must treat that as a defined no-data
// path, not an error.
type Location struct {
	ID       string
	Name     string
	UNLocode string
	Lat      *float64
	Lon      *float64
}

// HasCoordinates reports whether the location can be used for
// distance/congestion math.
func (l Location) HasCoordinates() bool { return l.Lat != nil && l.Lon != nil }
