package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    brand_id   TEXT NOT NULL DEFAULT '',
    mount_id   TEXT NOT NULL DEFAULT '',
    gear_type  TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_brand ON items(brand_id);
CREATE INDEX IF NOT EXISTS idx_items_mount ON items(mount_id);
CREATE INDEX IF NOT EXISTS idx_items_gear_type ON items(gear_type);

CREATE TABLE IF NOT EXISTS popularity_events (
    id         TEXT PRIMARY KEY,
    item_id    TEXT NOT NULL,
    actor_id   TEXT,
    event_type TEXT NOT NULL,
    points     INTEGER NOT NULL DEFAULT 0,
    context    TEXT NOT NULL DEFAULT '{}',
    day        TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_day_item ON popularity_events(day, item_id);
CREATE INDEX IF NOT EXISTS idx_events_item_actor ON popularity_events(item_id, actor_id, event_type, day);
CREATE UNIQUE INDEX IF NOT EXISTS uq_events_view_per_day
    ON popularity_events(item_id, actor_id, event_type, day)
    WHERE event_type = 'view' AND actor_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS daily_aggregates (
    item_id        TEXT NOT NULL,
    day            TEXT NOT NULL,
    views          INTEGER NOT NULL DEFAULT 0,
    wishlist_adds  INTEGER NOT NULL DEFAULT 0,
    owner_adds     INTEGER NOT NULL DEFAULT 0,
    compare_adds   INTEGER NOT NULL DEFAULT 0,
    review_submits INTEGER NOT NULL DEFAULT 0,
    score          INTEGER NOT NULL DEFAULT 0,
    updated_at     DATETIME NOT NULL,
    PRIMARY KEY (item_id, day)
);

CREATE INDEX IF NOT EXISTS idx_daily_day ON daily_aggregates(day);

CREATE TABLE IF NOT EXISTS rolled_days (
    day         TEXT PRIMARY KEY,
    event_count INTEGER NOT NULL,
    rolled_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS windowed_aggregates (
    item_id            TEXT NOT NULL,
    timeframe          TEXT NOT NULL,
    as_of_date         TEXT NOT NULL,
    views_sum          INTEGER NOT NULL DEFAULT 0,
    wishlist_adds_sum  INTEGER NOT NULL DEFAULT 0,
    owner_adds_sum     INTEGER NOT NULL DEFAULT 0,
    compare_adds_sum   INTEGER NOT NULL DEFAULT 0,
    review_submits_sum INTEGER NOT NULL DEFAULT 0,
    score              INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (item_id, timeframe, as_of_date)
);

CREATE INDEX IF NOT EXISTS idx_windowed_tf_asof ON windowed_aggregates(timeframe, as_of_date);

CREATE TABLE IF NOT EXISTS lifetime_aggregates (
    item_id                 TEXT PRIMARY KEY,
    views_lifetime          INTEGER NOT NULL DEFAULT 0,
    wishlist_adds_lifetime  INTEGER NOT NULL DEFAULT 0,
    owner_adds_lifetime     INTEGER NOT NULL DEFAULT 0,
    compare_adds_lifetime   INTEGER NOT NULL DEFAULT 0,
    review_submits_lifetime INTEGER NOT NULL DEFAULT 0,
    score_lifetime          INTEGER NOT NULL DEFAULT 0,
    updated_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rollup_runs (
    id                  TEXT PRIMARY KEY,
    created_at          DATETIME NOT NULL,
    as_of_date          TEXT NOT NULL,
    corrected_date      TEXT NOT NULL,
    daily_rows          INTEGER NOT NULL DEFAULT 0,
    late_arrivals       INTEGER NOT NULL DEFAULT 0,
    windows_rows        INTEGER NOT NULL DEFAULT 0,
    lifetime_total_rows INTEGER NOT NULL DEFAULT 0,
    duration_ms         INTEGER NOT NULL DEFAULT 0,
    success             BOOLEAN NOT NULL DEFAULT 0,
    error               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rollup_runs_created ON rollup_runs(created_at);
`
