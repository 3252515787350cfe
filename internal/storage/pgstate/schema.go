package pgstate

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS credentials (
  phone_number TEXT PRIMARY KEY,
  credential JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS carbon_state (
  phone_number TEXT PRIMARY KEY,
  cumulative_total_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
  total_parcels INT NOT NULL DEFAULT 0,
  seen_shipments JSONB NOT NULL DEFAULT '[]',
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS carbon_daily (
  phone_number TEXT NOT NULL,
  day TEXT NOT NULL,
  value_kg DOUBLE PRECISION NOT NULL,
  parcel_count INT NOT NULL,
  PRIMARY KEY (phone_number, day)
)`,
		`CREATE INDEX IF NOT EXISTS idx_carbon_daily_phone_day ON carbon_daily(phone_number, day DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
