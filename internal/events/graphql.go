package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	Query         string
	OperationName string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
// OperationType is empty when the request failed before planning.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Steps         int
	ErrorCount    int
	Err           error
	Duration      time.Duration
}
