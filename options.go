package senro

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	localDBPath string
	logger      *slog.Logger
	version     string
}

// WithPort overrides the TCP port from config (SENRO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string (DATABASE_URL
// env var). Set it to select the Postgres store explicitly.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLocalDBPath overrides the SQLite database path used when no Postgres
// URL is configured (SENRO_LOCAL_DB_PATH env var).
func WithLocalDBPath(path string) Option {
	return func(o *resolvedOptions) { o.localDBPath = path }
}

// WithLogger sets the structured logger. Defaults to a JSON logger on
// stdout at the configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the reported build version.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
