// Package api exposes the read-only HTTP interface for experiment run
// status. Handlers read run artifacts straight from the experiments
// directory; when a Postgres trace store is configured, observed-run
// history is served from it as well.
package api
