// Package gatewaycore wires the memory store, marker processor, channel
// manager, and completion backend together into the single-agent,
// per-sender-serial message pipeline (spec §4.1/§4.2). Grounded on the
// teacher's cmd/gateway_consumer.go consume loop, adapted from a
// multi-tenant/multi-agent design to this spec's one-agent,
// busy-set-gated pipeline.
package gatewaycore

import (
	"errors"
	"fmt"
)

// Category is the §7 error taxonomy every pipeline-stage error is tagged
// with, so callers can errors.As against a category instead of a specific
// wrapped error type.
type Category string

const (
	CategoryProvider     Category = "provider"
	CategoryChannel      Category = "channel"
	CategoryConfig       Category = "config"
	CategoryMemory       Category = "memory"
	CategorySandbox      Category = "sandbox"
	CategoryIO           Category = "io"
	CategorySerialization Category = "serialization"
)

// StageError wraps an error with the pipeline stage and category it
// occurred in, per spec §7's "stage-by-stage propagation policy": the
// orchestrator decides whether to retry, apologize-and-continue, or abort
// the conversation based on Category, not on the specific stage.
type StageError struct {
	Stage    string
	Category Category
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("gatewaycore: stage %s (%s): %v", e.Stage, e.Category, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func wrapStage(stage string, cat Category, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Category: cat, Err: err}
}

// Recoverable reports whether the pipeline should reply with a best-effort
// apology and keep the conversation open (Provider/Channel/IO — transient,
// worth retrying next turn) versus needing to surface a harder failure
// (Config/Memory/Sandbox/Serialization — a bug or misconfiguration that
// retrying the same turn won't fix).
func Recoverable(err error) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return true
	}
	switch se.Category {
	case CategoryProvider, CategoryChannel, CategoryIO:
		return true
	default:
		return false
	}
}
