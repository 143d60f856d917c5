/*
Package events provides a publish/subscribe broker for farm events.

Components publish lifecycle events (agents registering or going
stale, jobs changing aggregate state, tasks moving through the state
machine) and any number of subscribers receive them over buffered
channels. Slow subscribers are skipped rather than blocking the
broker.
*/
package events
