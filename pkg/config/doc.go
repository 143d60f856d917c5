/*
Package config defines the explicit configuration for a Grange master.

All tunables live in one Config struct: resource bounds for agents and
jobs, the sentinel values exempt from those bounds, scheduler tick and
heartbeat timing, and agent allocation defaults. The struct is built via
Default or Load and handed to components at construction time; no
package reads configuration from the environment on its own.
*/
package config
