// Package history persists supervision results and cron job runs to a
// local SQLite journal.
//
// The journal is an observer: it subscribes to the process event bus and
// records terminal task results and completed job runs. Nothing in the
// orchestration path blocks on it, and it is disabled by default.
package history
