package events

import (
	"net/http"
	"time"
)

// HTTPStart is published when the GraphQL endpoint receives a request.
// The event context carries the request id.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is published once the response has been written.
// Operations counts the GraphQL operations the request carried: 1 for a
// single request, the batch length for a batch, 0 when it was rejected.
type HTTPFinish struct {
	Request    *http.Request
	Status     int
	Operations int
	Duration   time.Duration
}
