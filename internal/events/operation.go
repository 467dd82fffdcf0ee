// Package events defines the lifecycle events published by the effect and
// stream layers.
package events

import "time"

// OperationStart is emitted before a single-shot operation is sent.
type OperationStart struct {
	ID            string
	OperationName string
	OperationType string
}

// OperationFinish is emitted once a single-shot operation has settled or
// was interrupted. Outcome is "ok", a failure kind tag, or "interrupted".
type OperationFinish struct {
	ID            string
	OperationName string
	OperationType string
	Outcome       string
	Err           error
	Duration      time.Duration
}

// StreamEmission is emitted for every element of a reactive stream.
type StreamEmission struct {
	ID            string
	OperationName string
	OperationType string
	Seq           int
	Outcome       string
	Stale         bool
	HasNext       bool
}

// StreamClosed is emitted when a reactive stream's channel is closed.
type StreamClosed struct {
	ID            string
	OperationName string
	OperationType string
	Emissions     int
	Duration      time.Duration
}
