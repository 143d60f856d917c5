/*
Package lifecycle is the task state machine.

States are queued (the zero value), assign, running, done and failed.
Each transition is an explicit function; any other transition returns
InvalidStateTransitionError. The transition into assign happens only by
binding an agent (AssignAgent), which makes "set the agent" and "mark
assigned" a single atomic operation rather than two mutations that
happen to be wired together.

Attempts increment on the transition to running, failures on the
transition to failed. Requeue implements the retry budget: a failed
task re-enters the queue while attempts remain below job.Requeue (or
always, for RequeueForever), otherwise failed is terminal.

Job state is never stored authoritatively beyond the alloc placeholder;
JobState derives it from the job's tasks.
*/
package lifecycle
