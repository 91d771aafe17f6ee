package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id           TEXT PRIMARY KEY,
    cwd                  TEXT,
    start_time           TEXT NOT NULL,
    end_time             TEXT NOT NULL,
    api_calls            INTEGER NOT NULL DEFAULT 0,
    input_tokens         INTEGER NOT NULL DEFAULT 0,
    output_tokens        INTEGER NOT NULL DEFAULT 0,
    cache_write_tokens   INTEGER NOT NULL DEFAULT 0,
    cache_read_tokens    INTEGER NOT NULL DEFAULT 0,
    estimated_cost       REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS api_calls (
    session_id           TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    turn                 INTEGER NOT NULL,
    message_id           TEXT,
    request_id           TEXT,
    model                TEXT NOT NULL,
    input_tokens         INTEGER NOT NULL,
    output_tokens        INTEGER NOT NULL,
    cache_write_tokens   INTEGER NOT NULL,
    cache_read_tokens    INTEGER NOT NULL,
    thinking_chars       INTEGER NOT NULL,
    text_chars           INTEGER NOT NULL,
    tool_chars           INTEGER NOT NULL,
    stop_reason          TEXT,
    error_type           TEXT,
    status_code          INTEGER,
    estimated_cost       REAL NOT NULL,
    cwd                  TEXT,
    duration_ms          INTEGER NOT NULL,
    timestamp            TEXT NOT NULL,
    partial              INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, turn)
);

CREATE TABLE IF NOT EXISTS events (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id           TEXT NOT NULL,
    kind                 TEXT,
    logged_at            TEXT NOT NULL,
    payload              TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON api_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_calls_model ON api_calls(model);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`
