package connectivity

// Schema is the routes table. Strategies:
//   - "local": the handler registered with RegisterLocal.
//   - "http":  POST to endpoint through HTTPFactory.
//   - "noop":  succeed without doing anything.
//
// config holds per-route JSON such as {"timeout_ms": 2000}.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`
