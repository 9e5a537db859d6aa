package repository

import (
	"database/sql"
	"errors"

	"curbspot/internal/db"
	apperr "curbspot/internal/errors"
)

type SpotRepository struct {
	DB *sql.DB
}

func NewSpotRepository(database *sql.DB) *SpotRepository {
	return &SpotRepository{DB: database}
}

func (r *SpotRepository) GetSpot(id string) (*db.Spot, error) {
	var s db.Spot
	query := `
		SELECT id, host_id, name, address, lat, lng, hourly_rate, ev_premium, instant_book, status
		FROM spots WHERE id = $1`
	err := r.DB.QueryRow(query, id).Scan(
		&s.ID, &s.HostID, &s.Name, &s.Address, &s.Lat, &s.Lng,
		&s.HourlyRate, &s.EVPremium, &s.InstantBook, &s.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "spot '%s' not found", id)
		}
		return nil, apperr.Wrap(apperr.KindDatastoreUnavailable, "error querying spot", err)
	}
	return &s, nil
}
