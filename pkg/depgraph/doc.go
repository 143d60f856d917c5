/*
Package depgraph resolves "must complete before" edges between jobs and
between tasks.

Edges are parent-id references on the entities themselves, resolved
through id lookup tables rather than object pointers. Cycles are
rejected when an edge is created (CheckJobDependency and
CheckTaskDependency), so resolution can assume a DAG.

A Resolver is scoped to a single scheduling pass: it snapshots jobs and
tasks, memoizes every runnability answer for the duration of the pass,
and is discarded before the next tick.
*/
package depgraph
