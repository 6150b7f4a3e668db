// Package storage persists pulse run history and notifier dedup state.
//
// History is an audit trail: nothing in it is used to restore schedules or
// id counters after a restart.
package storage
