package pgstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) SaveCredential(ctx context.Context, phoneNumber string, cred models.Credential) error {
	b, err := json.Marshal(cred)
	if err != nil {
		return errors.Wrap(err, "marshal credential")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO credentials (phone_number, credential, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (phone_number)
DO UPDATE SET credential = EXCLUDED.credential, updated_at = EXCLUDED.updated_at
`, phoneNumber, b, time.Now().UTC())
	return errors.Wrap(err, "upsert credential")
}

func (s *Storage) LoadCredential(ctx context.Context, phoneNumber string) (models.Credential, bool, error) {
	var b []byte
	err := s.db.QueryRow(ctx, `
SELECT credential FROM credentials WHERE phone_number = $1
`, phoneNumber).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, false, nil
	}
	if err != nil {
		return models.Credential{}, false, errors.Wrap(err, "select credential")
	}

	var cred models.Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return models.Credential{}, false, errors.Wrap(err, "unmarshal credential")
	}
	return cred, true, nil
}

// SaveCarbonState replaces the whole state atomically: the cumulative row and
// the daily series must never diverge, so both go in one tx.
func (s *Storage) SaveCarbonState(ctx context.Context, phoneNumber string, state models.CarbonFootprintState) error {
	seen, err := json.Marshal(state.SeenShipmentNumbers)
	if err != nil {
		return errors.Wrap(err, "marshal seen shipments")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO carbon_state (phone_number, cumulative_total_kg, total_parcels, seen_shipments, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (phone_number)
DO UPDATE SET
  cumulative_total_kg = EXCLUDED.cumulative_total_kg,
  total_parcels = EXCLUDED.total_parcels,
  seen_shipments = EXCLUDED.seen_shipments,
  updated_at = EXCLUDED.updated_at
`, phoneNumber, state.CumulativeTotalKg, state.TotalParcels, seen, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "upsert carbon state")
	}

	for _, d := range state.DailySeries {
		_, err := tx.Exec(ctx, `
INSERT INTO carbon_daily (phone_number, day, value_kg, parcel_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (phone_number, day)
DO UPDATE SET value_kg = EXCLUDED.value_kg, parcel_count = EXCLUDED.parcel_count
`, phoneNumber, d.Date, d.ValueKg, d.ParcelCount)
		if err != nil {
			return errors.Wrap(err, "upsert carbon daily")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) LoadCarbonState(ctx context.Context, phoneNumber string) (models.CarbonFootprintState, bool, error) {
	var state models.CarbonFootprintState
	var seen []byte
	err := s.db.QueryRow(ctx, `
SELECT cumulative_total_kg, total_parcels, seen_shipments
FROM carbon_state
WHERE phone_number = $1
`, phoneNumber).Scan(&state.CumulativeTotalKg, &state.TotalParcels, &seen)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CarbonFootprintState{}, false, nil
	}
	if err != nil {
		return models.CarbonFootprintState{}, false, errors.Wrap(err, "select carbon state")
	}
	if err := json.Unmarshal(seen, &state.SeenShipmentNumbers); err != nil {
		return models.CarbonFootprintState{}, false, errors.Wrap(err, "unmarshal seen shipments")
	}

	rows, err := s.db.Query(ctx, `
SELECT day, value_kg, parcel_count
FROM carbon_daily
WHERE phone_number = $1
ORDER BY day ASC
`, phoneNumber)
	if err != nil {
		return models.CarbonFootprintState{}, false, errors.Wrap(err, "select carbon daily")
	}
	defer rows.Close()

	for rows.Next() {
		var d models.DailyCarbon
		if err := rows.Scan(&d.Date, &d.ValueKg, &d.ParcelCount); err != nil {
			return models.CarbonFootprintState{}, false, errors.Wrap(err, "scan carbon daily")
		}
		state.DailySeries = append(state.DailySeries, d)
	}
	if rows.Err() != nil {
		return models.CarbonFootprintState{}, false, errors.Wrap(rows.Err(), "rows")
	}

	return state, true, nil
}
