/*
Package log provides structured logging for Grange components.

It wraps zerolog with a global logger plus helpers for attaching the
identifiers that recur throughout the farm: component names, agent ids,
job ids and task ids. Components obtain a child logger once at
construction time and log through it:

	logger := log.WithComponent("scheduler")
	logger.Info().Str("task_id", task.ID).Msg("task assigned")

Output is human-readable console format by default; JSON output is
selectable for log aggregation.
*/
package log
