package storage

import (
	"context"
	"strings"
	"time"

	"anchorwatch/internal/domain"
)

// UpsertPosition records the latest AIS report for an asset. Older
// reports never overwrite newer ones.
func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions(asset_id, lat, lon, speed_kn, heading_deg, nav_status, recorded_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(asset_id) DO UPDATE SET
		   lat=excluded.lat, lon=excluded.lon, speed_kn=excluded.speed_kn,
		   heading_deg=excluded.heading_deg, nav_status=excluded.nav_status,
		   recorded_at=excluded.recorded_at
		 WHERE excluded.recorded_at >= positions.recorded_at`,
		p.AssetID, p.Lat, p.Lon, p.SpeedKn, p.HeadingDeg, p.NavStatus, timeStr(p.Timestamp),
	)
	return err
}

// LatestPositions implements domain.PositionSource.
func (s *Store) LatestPositions(ctx context.Context, assetIDs []string) ([]domain.Position, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(assetIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(assetIDs))
	for i, id := range assetIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, lat, lon, speed_kn, heading_deg, nav_status, recorded_at
		 FROM positions WHERE asset_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// PositionsNear implements domain.PositionSource: latest report per
// asset inside a degree box centered on (lat, lon), no older than since.
func (s *Store) PositionsNear(ctx context.Context, lat, lon, radiusDeg float64, since time.Time) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, lat, lon, speed_kn, heading_deg, nav_status, recorded_at
		 FROM positions
		 WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ? AND recorded_at >= ?`,
		lat-radiusDeg, lat+radiusDeg, lon-radiusDeg, lon+radiusDeg, timeStr(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		var (
			p  domain.Position
			at string
		)
		if err := rows.Scan(&p.AssetID, &p.Lat, &p.Lon, &p.SpeedKn, &p.HeadingDeg, &p.NavStatus, &at); err != nil {
			return nil, err
		}
		p.Timestamp = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}
