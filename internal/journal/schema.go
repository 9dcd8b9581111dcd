package journal

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_items (
    id               TEXT PRIMARY KEY,
    task_id          TEXT NOT NULL REFERENCES tasks(id),
    ordinal          INTEGER NOT NULL,
    title            TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    started_at       TEXT,
    completed_at     TEXT,
    duration_seconds REAL,
    UNIQUE (task_id, ordinal)
);

CREATE TABLE IF NOT EXISTS actions (
    id           TEXT PRIMARY KEY,
    task_id      TEXT NOT NULL REFERENCES tasks(id),
    plan_item_id TEXT REFERENCES plan_items(id),
    action_type  TEXT NOT NULL,
    summary      TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'started',
    input_data   TEXT,
    output_data  TEXT,
    created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_logs (
    id         TEXT PRIMARY KEY,
    action_id  TEXT NOT NULL REFERENCES actions(id),
    log_type   TEXT NOT NULL DEFAULT 'note',
    content    TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_messages (
    id         TEXT PRIMARY KEY,
    task_id    TEXT NOT NULL REFERENCES tasks(id),
    role       TEXT NOT NULL DEFAULT 'agent',
    msg_type   TEXT NOT NULL DEFAULT 'text',
    content    TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS wait_jobs (
    id              TEXT PRIMARY KEY,
    task_id         TEXT,
    target_type     TEXT NOT NULL,
    target_id       TEXT NOT NULL,
    criteria        TEXT NOT NULL,
    timeout_seconds INTEGER NOT NULL,
    poll_interval   REAL NOT NULL,
    status          TEXT NOT NULL DEFAULT 'watching',
    result_message  TEXT,
    created_at      TEXT NOT NULL,
    resolved_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_plan_items_task    ON plan_items(task_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_actions_plan_item  ON actions(plan_item_id);
CREATE INDEX IF NOT EXISTS idx_actions_task       ON actions(task_id);
CREATE INDEX IF NOT EXISTS idx_action_logs_action ON action_logs(action_id);
CREATE INDEX IF NOT EXISTS idx_task_messages_task ON task_messages(task_id, created_at);
CREATE INDEX IF NOT EXISTS idx_wait_jobs_status   ON wait_jobs(status);
`
