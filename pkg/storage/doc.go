/*
Package storage persists farm state in an embedded BoltDB database.

Every entity type gets one bucket; values are JSON-encoded and keyed by
id (tags by name). Updates are upserts. The Store interface is the only
storage contract the rest of the system sees, so the engine can be
swapped as long as two guarantees hold: atomic read-modify-write per
entity, and atomic application of a MutationSet.

MutationSet is how multi-entity writes stay consistent: an assignment
commit writes the task (now assigned) and the agent (capacity debited)
in one transaction, and bulk task generation writes a job and all of
its tasks the same way.
*/
package storage
