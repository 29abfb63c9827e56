// Package executor runs a planner.QueryPlan against subgraphs and stitches
// their partial results into one client response.
//
// # Execution Model
//
// A plan is a forest of fetch steps. Query root steps start together;
// mutation root steps start one after another, each only once the previous
// one and all of its entity steps are done. When a step's response has been
// merged into the response tree its children start, concurrently among
// siblings.
//
// An entity step walks the tree along its path, descending into lists, and
// builds one reference per entity object it finds from the step's reference
// fields. Identical references are sent once: the step issues a single
// _entities call with the deduplicated list, and the i-th returned entity is
// merged into every object whose reference was the i-th representation.
//
// The response tree is request local and guarded by a mutex. Subgraph calls
// are made without holding it.
//
// # Failures
//
// A failed call (transport error, non-2xx status, malformed payload or a
// call running past WithFetchTimeout) does not stop other steps. Every field
// the step was to provide is replaced in the tree by an error marker, and the
// step's children propagate the marker when they find it among their
// reference fields. Errors reported by a subgraph are placed at the path
// they name, translated from _entities indexes to response paths.
//
// # Completion
//
// Once every step has finished the tree is walked along the client
// selection. Markers become located errors; nulls in non-null positions
// become NON_NULL_VIOLATION errors and propagate to the nearest nullable
// ancestor, up to data itself. Fields appear in the order the client
// selected them.
//
// # Cancellation
//
// If the request context ends while steps are pending Execute returns
// ErrCancelled and discards everything fetched so far. Execute returns only
// after every goroutine it started has exited.
package executor
