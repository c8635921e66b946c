// Package daemon wires the process together: config, logging, event bus,
// history journal, the supervision runtime for services, and the cron
// scheduler for jobs.
//
// Services and jobs from the config file run as external commands. The
// daemon maps each service to a supervised task (restart policy, backoff,
// dependencies) and each job to a scheduled cron job.
package daemon
