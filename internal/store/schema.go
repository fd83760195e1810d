package store

// schemaSQL is the DDL for every table, index, and trigger. It is applied
// idempotently on open; ALTERs for future revisions belong in migrate.go.
const schemaSQL = `
-- One research run per thread
CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    title TEXT,
    visitor_id TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user','assistant','system')),
    content_md TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

-- sources.url is the canonical URL; fingerprint is a content hash used to
-- dedupe identical pages served from different URLs.
CREATE TABLE IF NOT EXISTS sources (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL UNIQUE,
    domain TEXT NOT NULL,
    title TEXT,
    published_at TEXT,
    crawled_at INTEGER,
    lang TEXT,
    fingerprint TEXT UNIQUE,
    status TEXT NOT NULL DEFAULT 'ok',
    http_status INTEGER,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS source_content (
    source_id TEXT PRIMARY KEY REFERENCES sources(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    html TEXT
);

-- Chunk offsets index into source_content.text; chunks are immutable once
-- written.
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    pos INTEGER NOT NULL,
    char_start INTEGER NOT NULL,
    char_end INTEGER NOT NULL,
    text TEXT NOT NULL,
    tokens INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    CHECK (char_start >= 0 AND char_start < char_end)
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id, pos);

-- Full-text index over chunk text, external content keyed by chunks.rowid.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    content='chunks',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TABLE IF NOT EXISTS citations (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    source_id TEXT NOT NULL REFERENCES sources(id),
    chunk_id TEXT REFERENCES chunks(id),
    quote TEXT NOT NULL,
    char_start INTEGER,
    char_end INTEGER,
    rank_score REAL
);
CREATE INDEX IF NOT EXISTS idx_citations_message ON citations(message_id);

CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    claim_type TEXT,
    support_score REAL NOT NULL CHECK (support_score >= 0 AND support_score <= 1),
    contradicted INTEGER NOT NULL DEFAULT 0,
    uncertainty_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_claims_message ON claims(message_id);

-- Evidence offsets are relative to the chunk text, not the source text.
-- chunk_id and the offsets are null when the quote names only a source or
-- could not be located.
CREATE TABLE IF NOT EXISTS claim_evidence (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
    source_id TEXT NOT NULL REFERENCES sources(id),
    chunk_id TEXT REFERENCES chunks(id),
    quote TEXT NOT NULL,
    char_start INTEGER,
    char_end INTEGER,
    score REAL,
    CHECK (char_start IS NULL OR char_start <= char_end)
);
CREATE INDEX IF NOT EXISTS idx_claim_evidence_claim ON claim_evidence(claim_id);

CREATE TABLE IF NOT EXISTS ingest_queue (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','processing','done','error')),
    attempts INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_queue_status ON ingest_queue(status);

CREATE TABLE IF NOT EXISTS search_events (
    id TEXT PRIMARY KEY,
    thread_id TEXT,
    query TEXT NOT NULL,
    results_json TEXT,
    created_at INTEGER NOT NULL
);
`
