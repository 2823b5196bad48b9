package journal

// Schema creates the journal tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS run_sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ,
	status           TEXT NOT NULL DEFAULT 'active',
	point_count      INTEGER NOT NULL DEFAULT 0,
	rejected_count   INTEGER NOT NULL DEFAULT 0,
	distance_m       DOUBLE PRECISION NOT NULL DEFAULT 0,
	saved_distance_m DOUBLE PRECISION,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_points (
	session_id  TEXT NOT NULL REFERENCES run_sessions(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	accuracy_m  DOUBLE PRECISION,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS run_sessions_user_started ON run_sessions (user_id, started_at DESC);
`
