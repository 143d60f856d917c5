/*
Package metrics provides Prometheus metrics and health endpoints for a
Grange master.

All metrics register at package init against the default registry and
are exposed through Handler for scraping. State gauges (agents, jobs
and tasks by state, agents committed per queue) are refreshed by the
Collector on a fixed interval; the scheduler, health monitor and
dispatcher update their counters and the tick-latency histogram inline.

The package also carries a small component health registry backing the
/health, /ready and /live endpoints: long-running components register
themselves and flip their status as they start, stall or fail.
*/
package metrics
