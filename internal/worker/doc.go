// Package worker implements the message channel between the pipeline and
// the isolated execution context running the analysis engine.
//
// The engine runs in a child process (the sonomap binary re-executed in
// engine-worker mode) and the two sides exchange newline-delimited JSON
// envelopes {type, id, payload} over the child's stdin/stdout. Requests
// carry monotonically increasing correlation ids; a single dispatcher
// matches responses to pending requests by id, so out-of-order delivery is
// tolerated. Every request is bound to a timeout, late responses for
// expired ids are logged and discarded, and terminating the channel fails
// all outstanding requests.
//
// The channel is built over an abstract Transport so tests can drive the
// protocol with in-memory pipes instead of a real child process.
package worker
