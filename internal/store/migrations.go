package store

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    source       TEXT NOT NULL,
    collected_at DATETIME NOT NULL,
    item_count   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_source_date ON sessions(source, collected_at);

CREATE TABLE IF NOT EXISTS items (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    ordinal      INTEGER NOT NULL,
    external_id  TEXT NOT NULL,
    title        TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    author       TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    metrics      TEXT NOT NULL DEFAULT '{}',
    extra        TEXT NOT NULL DEFAULT '{}',
    published_at DATETIME NOT NULL,
    UNIQUE(session_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_items_session ON items(session_id);

CREATE TABLE IF NOT EXISTS job_runs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL,
    source     TEXT NOT NULL,
    attempt    INTEGER NOT NULL,
    started_at DATETIME NOT NULL,
    outcome    TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_id, started_at);
`
