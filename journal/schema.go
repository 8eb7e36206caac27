package journal

// Schema 审计库结构。动作与违规都是只追加的事实表，永不 UPDATE/DELETE。
const Schema = `
CREATE TABLE IF NOT EXISTS actions (
	action_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	rule TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	permanent INTEGER NOT NULL DEFAULT 0,
	cooldown_ms INTEGER NOT NULL DEFAULT 0,
	issued_at DATETIME NOT NULL,
	resolved_at DATETIME,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_actions_account ON actions(account_id, issued_at);

CREATE TABLE IF NOT EXISTS breaches (
	breach_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	rule TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_breaches_account ON breaches(account_id, occurred_at);
`
