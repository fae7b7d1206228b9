package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS price_ticks (
		epic        TEXT           NOT NULL,
		ts          TIMESTAMPTZ    NOT NULL,
		bid         NUMERIC(18, 6),
		ask         NUMERIC(18, 6),
		mid         NUMERIC(18, 6),
		volume      BIGINT,
		received_at TIMESTAMPTZ    NOT NULL DEFAULT now(),
		PRIMARY KEY (epic, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS price_candles (
		epic          TEXT           NOT NULL,
		resolution    TEXT           NOT NULL,
		snapshot_time TIMESTAMPTZ    NOT NULL,
		open_bid      NUMERIC(18, 6) NOT NULL,
		open_ask      NUMERIC(18, 6) NOT NULL,
		high_bid      NUMERIC(18, 6) NOT NULL,
		high_ask      NUMERIC(18, 6) NOT NULL,
		low_bid       NUMERIC(18, 6) NOT NULL,
		low_ask       NUMERIC(18, 6) NOT NULL,
		close_bid     NUMERIC(18, 6) NOT NULL,
		close_ask     NUMERIC(18, 6) NOT NULL,
		volume        BIGINT         NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ    NOT NULL DEFAULT now(),
		PRIMARY KEY (epic, resolution, snapshot_time)
	)`,
	`CREATE INDEX IF NOT EXISTS price_candles_res_time_idx
		ON price_candles (resolution, snapshot_time DESC)`,
	`CREATE TABLE IF NOT EXISTS data_fetch_log (
		id          BIGSERIAL   PRIMARY KEY,
		epic        TEXT        NOT NULL,
		resolution  TEXT        NOT NULL,
		range_start TIMESTAMPTZ NOT NULL,
		range_end   TIMESTAMPTZ NOT NULL,
		records     INTEGER     NOT NULL DEFAULT 0,
		status      TEXT        NOT NULL,
		error       TEXT,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
