// Package runstore persists training runs and their per-epoch metrics in a
// SQLite database under the output directory, so past runs stay inspectable
// from the CLI after the process exits.
package runstore
