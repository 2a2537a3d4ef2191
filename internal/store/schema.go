package store

// schema contains the SQL statements to create the flowseq database schema.
const schema = `
-- Packages table
CREATE TABLE IF NOT EXISTS packages (
    pkg_path TEXT PRIMARY KEY,
    module   TEXT,
    dir      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packages_module ON packages(module);

-- Symbols table: every function or method that is a caller or a callee.
-- Symbols of packages outside the project have no body.
CREATE TABLE IF NOT EXISTS symbols (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    key       TEXT NOT NULL UNIQUE,
    pkg_path  TEXT NOT NULL,
    type_name TEXT NOT NULL,
    name      TEXT NOT NULL,
    params    TEXT NOT NULL DEFAULT '[]',
    kind      TEXT NOT NULL,
    file      TEXT,
    line      INTEGER,
    has_body  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_symbols_pkg_path ON symbols(pkg_path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_type ON symbols(type_name, name);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file);

-- Call sites table: the calls of one body in source order.
CREATE TABLE IF NOT EXISTS call_sites (
    caller_id INTEGER NOT NULL,
    seq       INTEGER NOT NULL,
    callee_id INTEGER NOT NULL,
    resolved  INTEGER NOT NULL,
    call_kind TEXT NOT NULL,
    file      TEXT,
    line      INTEGER,
    PRIMARY KEY (caller_id, seq),
    FOREIGN KEY (caller_id) REFERENCES symbols(id),
    FOREIGN KEY (callee_id) REFERENCES symbols(id)
);

CREATE INDEX IF NOT EXISTS idx_call_sites_callee ON call_sites(callee_id);
CREATE INDEX IF NOT EXISTS idx_call_sites_kind ON call_sites(call_kind);

-- Metadata table for index info
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`
