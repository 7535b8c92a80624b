// Package cronbook runs chat commands on a recurring schedule.
//
// A Book persists events (cron expression, command text, room, timezone) as one
// whole document in storage. A Backlog keeps the next fire instant of every
// known event in memory, and a Dispatcher polls on a fixed interval: reload the
// book, refresh the backlog, execute what is due, drop it. An event whose
// command fails is dropped all the same; its next occurrence fires normally.
package cronbook
