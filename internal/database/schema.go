package database

// Schema is the logical schema shared by all helmsman databases. Every
// statement is idempotent so Migrate can run on each startup.
const Schema = `
CREATE TABLE IF NOT EXISTS securities (
	symbol TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT 'EUR',
	country TEXT DEFAULT '',
	industry TEXT DEFAULT '',
	exchange TEXT DEFAULT '',
	min_lot INTEGER NOT NULL DEFAULT 1 CHECK(min_lot >= 1),
	allow_buy INTEGER NOT NULL DEFAULT 1,
	allow_sell INTEGER NOT NULL DEFAULT 1,
	active INTEGER NOT NULL DEFAULT 1,
	priority_multiplier REAL NOT NULL DEFAULT 1.0 CHECK(priority_multiplier >= 0),
	yahoo_symbol TEXT DEFAULT '',
	isin TEXT DEFAULT '',
	ml_enabled INTEGER NOT NULL DEFAULT 0,
	last_synced INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_securities_active ON securities(active);
CREATE INDEX IF NOT EXISTS idx_securities_isin ON securities(isin);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	quantity INTEGER NOT NULL DEFAULT 0 CHECK(quantity >= 0),
	avg_price REAL NOT NULL DEFAULT 0,
	current_price REAL NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'EUR',
	market_value_eur REAL NOT NULL DEFAULT 0,
	cost_basis_eur REAL NOT NULL DEFAULT 0,
	first_bought_at INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cash_balances (
	currency TEXT PRIMARY KEY,
	amount REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prices (
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	open REAL, high REAL, low REAL, close REAL,
	volume INTEGER DEFAULT 0,
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS prices_monthly (
	symbol TEXT NOT NULL,
	month TEXT NOT NULL,
	close REAL NOT NULL,
	PRIMARY KEY (symbol, month)
);

CREATE TABLE IF NOT EXISTS scores (
	symbol TEXT NOT NULL,
	calculated_at INTEGER NOT NULL,
	total_score REAL NOT NULL CHECK(total_score >= 0 AND total_score <= 1),
	long_term REAL DEFAULT 0,
	fundamentals REAL DEFAULT 0,
	opportunity REAL DEFAULT 0,
	opinion REAL DEFAULT 0,
	diversification REAL DEFAULT 0,
	PRIMARY KEY (symbol, calculated_at)
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker_trade_id TEXT UNIQUE,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL CHECK(price > 0),
	executed_at TEXT NOT NULL,
	commission REAL DEFAULT 0,
	commission_currency TEXT DEFAULT 'EUR',
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, executed_at);

CREATE TABLE IF NOT EXISTS cash_flows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT UNIQUE,
	date TEXT NOT NULL,
	type_id TEXT NOT NULL,
	amount REAL NOT NULL,
	currency TEXT NOT NULL DEFAULT 'EUR',
	comment TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS recommendations (
	uuid TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	name TEXT DEFAULT '',
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	estimated_price REAL NOT NULL,
	estimated_value REAL NOT NULL,
	reason TEXT DEFAULT '',
	currency TEXT NOT NULL DEFAULT 'EUR',
	status TEXT NOT NULL DEFAULT 'PENDING',
	retry_count INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS planner_sequences (
	portfolio_hash TEXT NOT NULL,
	sequence_hash TEXT NOT NULL,
	actions TEXT NOT NULL,
	evaluated INTEGER NOT NULL DEFAULT 0,
	score REAL,
	created_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (portfolio_hash, sequence_hash)
);

CREATE INDEX IF NOT EXISTS idx_planner_unevaluated
	ON planner_sequences(portfolio_hash, evaluated);

CREATE TABLE IF NOT EXISTS strategy_state (
	symbol TEXT PRIMARY KEY,
	tranche_stage INTEGER NOT NULL DEFAULT 0,
	scaleout_stage INTEGER NOT NULL DEFAULT 0,
	last_entry_price REAL DEFAULT 0,
	last_entry_ts INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS allocation_targets (
	type TEXT NOT NULL CHECK(type IN ('geography', 'industry')),
	name TEXT NOT NULL,
	weight REAL NOT NULL,
	PRIMARY KEY (type, name)
);

CREATE TABLE IF NOT EXISTS allocation_groups (
	type TEXT NOT NULL CHECK(type IN ('geography', 'industry')),
	member TEXT NOT NULL,
	group_name TEXT NOT NULL,
	PRIMARY KEY (type, member)
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	date TEXT PRIMARY KEY,
	total_value_eur REAL NOT NULL,
	cash_eur REAL NOT NULL DEFAULT 0,
	positions TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_schedules (
	job_type TEXT PRIMARY KEY,
	interval_minutes INTEGER NOT NULL DEFAULT 60,
	interval_market_open_minutes INTEGER,
	market_timing INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_run INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	category TEXT DEFAULT '',
	description TEXT DEFAULT '',
	param_source TEXT DEFAULT '',
	param_field TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS job_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	executed_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_job_history_executed ON job_history(executed_at DESC);

CREATE TABLE IF NOT EXISTS metrics (
	symbol TEXT NOT NULL,
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	computed_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, metric)
);
`
