// Package scheduler is the trigger engine: it decides when work starts and
// hands off to a job function. It runs no business logic itself.
//
// Trigger kinds:
//   - daily: fixed HH:MM in the scheduler timezone (cron)
//   - schedule: cron expression, descriptor or fixed interval
//   - once: one-shot timer at a given instant
//   - adaptive: recurring timer whose next delay depends on the last run
//
// Every registration is an upsert by name, so re-registering on config
// reload never duplicates a trigger. A failing or panicking job is logged
// and never stops the trigger that fired it.
package scheduler
