/*
Package health tracks agent heartbeats and their consequence on
scheduling eligibility.

Each agent status report updates last-heard-from, free ram and state
atomically; reports that arrive out of order are discarded. An agent
silent past the configured threshold is stale: the scheduler excludes
it from candidate pools, and the Monitor's periodic sweep marks it
offline and force-fails its assigned or running tasks so they flow
through the normal requeue budget. Agent loss recovers automatically
this way; it only becomes operator-visible when a job's retry budget
runs out.
*/
package health
