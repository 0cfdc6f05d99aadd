// Package experiment models the on-disk layout of evolution experiment runs:
// timestamped run directories, the append-only evolution trace, and the
// rollback event log. All operations are read-only; the external optimizer is
// the sole writer.
package experiment
