/*
Package queue implements the hierarchical job queue tree that decides
which work is eligible to be scheduled next.

Queues form a forest. Each queue carries a priority, a weight, optional
minimum/maximum agent counts, and a materialized fullpath (dot-joined
ancestor names) that is recomputed and cascaded to every descendant
whenever a queue is renamed.

Selection order among siblings is strict priority first; siblings of
equal priority are ordered by the gap between their weight share and
their currently assigned share, so agents distribute proportionally to
weight over time. A queue whose subtree has not met minimum_agents is
preferred over all satisfied queues, and a queue at maximum_agents
(its own or an ancestor's) is ineligible entirely.

The tree is rebuilt from storage per pass; it holds no state of its
own between passes.
*/
package queue
