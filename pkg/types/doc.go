/*
Package types defines the Grange resource model: agents, jobs, tasks,
job queues, job groups and tags, along with the typed errors the rest
of the system raises and the validation rules the model enforces.

# Resource Model

An Agent is a worker host with installed capacity (cpus, ram), observed
free capacity, and allocation fractions capping how much of that
capacity may be committed to work. A Job is submitted work with
per-task resource requirements and a frame range that expands into
Tasks, one per frame. JobQueues form a tree that controls which work is
eligible next; JobGroups are purely organizational.

# Validation

Bounded numeric fields (port, cpus, ram, allocation fractions,
priority) are validated against the configured limits at construction
and on every mutation through a Validator. Job cpus/ram additionally
honor sentinel values: 0 means no floor, -1 demands whole-agent
exclusivity. Hostnames follow DNS-label grammar; agent addresses must
be usable unicast IPv4 addresses. All validators are pure functions
with no transport or storage dependencies.

# Errors

The five error kinds raised by the core are defined here:
ValidationError, CyclicDependencyError, InvalidStateTransitionError,
CapacityExceededError and StaleAgentError. Validation and cycle errors
are synchronous and leave state untouched; capacity and transition
errors during scheduling are local to one candidate and never fail a
whole tick.
*/
package types
