// Package cron schedules jobs on a 7-field cron timeline.
//
// # Expressions
//
// Seven space-separated fields: second minute hour day-of-month month
// day-of-week year. Each field accepts "*", numeric literals, "a-b" ranges,
// "*/n" and "a-b/n" steps, and comma lists. Expressions are parsed and
// range-checked at registration; the scheduler never sees an unvalidated
// schedule.
//
// # Dispatch discipline
//
// The scheduler keeps a min-heap keyed by next fire time. The loop peeks
// the top without popping, sleeps until due, then drains every entry due at
// that instant before sleeping again. Each due job runs on its own
// goroutine and is requeued with its next fire time computed from the
// current instant, so jobs sharing a tick all fire in that tick and a slow
// job never starves its peers.
//
// Job errors and panics are routed to the job's OnError hook; the scheduler
// keeps running and always reschedules.
package cron
