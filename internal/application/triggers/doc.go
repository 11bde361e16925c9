// Package triggers connects external stimuli to the engine: the dispatcher
// resolves webhook, manual and event triggers into runs (with idempotent
// webhook delivery), and the scheduler fires cron-based schedule triggers.
package triggers
