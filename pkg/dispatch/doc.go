// Package dispatch delivers assignment batches to agent endpoints.
//
// Delivery is a single HTTP POST of the assignment as JSON to the
// agent's /assign endpoint, resolved from the agent's address mode and
// port. The dispatcher never retries: a failed delivery is reported to
// the caller, which treats it as agent loss and lets the health path
// recover the work.
package dispatch
