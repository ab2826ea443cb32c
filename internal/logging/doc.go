// Package logging builds the slog loggers used across veritect. It provides
// a console handler tuned for interactive training runs, a JSON handler for
// machine-readable logs, and small attribute helpers shared by all packages.
package logging
