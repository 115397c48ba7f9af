package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"anchorwatch/internal/domain"
)

// UpsertAsset writes the ingest-side view of a vessel.
func (s *Store) UpsertAsset(ctx context.Context, a domain.TrackedAsset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets(id, name, imo, type, gross_tonnage, length_m, deadweight_t, destination_id, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, imo=excluded.imo, type=excluded.type,
		   gross_tonnage=excluded.gross_tonnage, length_m=excluded.length_m,
		   deadweight_t=excluded.deadweight_t, destination_id=excluded.destination_id,
		   updated_at=excluded.updated_at`,
		a.ID, a.Name, nullStr(a.IMO), nullStr(a.Type),
		a.GrossTonnage, a.LengthM, a.DeadweightT, nullStr(a.DestinationID), timeStr(time.Now()),
	)
	return err
}

func (s *Store) GetAsset(ctx context.Context, id string) (domain.TrackedAsset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(imo,''), COALESCE(type,''), gross_tonnage, length_m, deadweight_t, COALESCE(destination_id,'')
		 FROM assets WHERE id = ?`, id)
	var a domain.TrackedAsset
	err := row.Scan(&a.ID, &a.Name, &a.IMO, &a.Type, &a.GrossTonnage, &a.LengthM, &a.DeadweightT, &a.DestinationID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TrackedAsset{}, ErrNotFound
	}
	return a, err
}

// AssetsWithDestination returns assets with an active destination set;
// these are the geofence scan population.
func (s *Store) AssetsWithDestination(ctx context.Context) ([]domain.TrackedAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(imo,''), COALESCE(type,''), gross_tonnage, length_m, deadweight_t, COALESCE(destination_id,'')
		 FROM assets WHERE destination_id IS NOT NULL AND destination_id != '' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrackedAsset
	for rows.Next() {
		var a domain.TrackedAsset
		if err := rows.Scan(&a.ID, &a.Name, &a.IMO, &a.Type, &a.GrossTonnage, &a.LengthM, &a.DeadweightT, &a.DestinationID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertLocation(ctx context.Context, l domain.Location) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations(id, name, unlocode, lat, lon) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, unlocode=excluded.unlocode, lat=excluded.lat, lon=excluded.lon`,
		l.ID, l.Name, nullStr(l.UNLocode), nullFloat(l.Lat), nullFloat(l.Lon),
	)
	return err
}

func (s *Store) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(unlocode,''), lat, lon FROM locations WHERE id = ?`, id)
	var (
		l        domain.Location
		lat, lon sql.NullFloat64
	)
	err := row.Scan(&l.ID, &l.Name, &l.UNLocode, &lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Location{}, ErrNotFound
	}
	if err != nil {
		return domain.Location{}, err
	}
	l.Lat = scanFloat(lat)
	l.Lon = scanFloat(lon)
	return l, nil
}

func (s *Store) UpsertContact(ctx context.Context, c domain.Contact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(id, asset_id, name, email, phone, whatsapp, user_id, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   asset_id=excluded.asset_id, name=excluded.name, email=excluded.email,
		   phone=excluded.phone, whatsapp=excluded.whatsapp, user_id=excluded.user_id`,
		c.ID, c.AssetID, nullStr(c.Name), nullStr(c.Email), nullStr(c.Phone),
		nullStr(c.WhatsApp), nullStr(c.UserID), timeStr(time.Now()),
	)
	return err
}

// ContactForAsset returns the alert recipient for an asset. ErrNotFound
// means alerts for this asset cannot be addressed; the caller decides
// how to degrade.
func (s *Store) ContactForAsset(ctx context.Context, assetID string) (domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, asset_id, COALESCE(name,''), COALESCE(email,''), COALESCE(phone,''), COALESCE(whatsapp,''), COALESCE(user_id,'')
		 FROM contacts WHERE asset_id = ? ORDER BY created_at LIMIT 1`, assetID)
	var c domain.Contact
	err := row.Scan(&c.ID, &c.AssetID, &c.Name, &c.Email, &c.Phone, &c.WhatsApp, &c.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contact{}, ErrNotFound
	}
	return c, err
}
