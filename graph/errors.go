package graph

import (
	"errors"
	"fmt"
)

var (
	ErrFrozen       = errors.New("graph is frozen")
	ErrUnknownInput = errors.New("input references a node that was not added")
	ErrInference    = errors.New("cannot infer a concrete output")
)

// GraphError reports a malformed topology while the graph is being built.
type GraphError struct {
	Op   string
	Node NodeID
	Kind string
	Err  error
}

func (e *GraphError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("graph: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("graph: %s node %d (%s): %v", e.Op, e.Node, e.Kind, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// VerificationError reports a graph that cannot be frozen.
type VerificationError struct {
	// Node is -1 when the failure is not tied to a single node.
	Node   NodeID
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	msg := "graph: verification failed"
	if e.Node >= 0 {
		msg += fmt.Sprintf(" at node %d", e.Node)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error { return e.Err }
