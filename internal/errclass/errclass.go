// Package errclass defines the shared error classification scheme.
// Concrete error types live beside the component that raises them
// (rpcclient.TimeoutError, syncstore.UniqueConstraintError,
// indexstore.InvalidEventAccessError, realtime.DeepReorgError, ...) so a
// leaf package never needs to import another leaf package just to
// construct its own error. Each of those types implements Classifier so
// the omnichain driver, and anything else downstream, can decide how to
// react to an error without a type switch over every leaf package.
package errclass

import "errors"

// Class is one of a small, closed set of reactions a caller takes to an
// error, independent of which package raised it.
type Class string

const (
	// Retryable means the same request can be retried, possibly against a
	// different bucket/endpoint, with no state implications.
	Retryable Class = "retryable"
	// ProviderPolicy means the request shape itself was rejected by the
	// provider (e.g. an eth_getLogs range too wide). Retrying verbatim
	// will fail again; the caller must split or reshape the request.
	ProviderPolicy Class = "provider_policy"
	// UserCode means a handler or configured filter did something the
	// engine considers invalid (e.g. an out-of-order table read) that the
	// engine can recover from procedurally (replay, skip) without operator
	// intervention.
	UserCode Class = "user_code"
	// Fatal means the condition requires operator intervention; the
	// component that observed it should stop rather than continue in a
	// possibly-inconsistent state.
	Fatal Class = "fatal"
	// Unclassified is returned for any error that does not implement
	// Classifier.
	Unclassified Class = "unclassified"
)

// Classifier is implemented by every typed error the engine defines.
type Classifier interface {
	error
	Class() Class
}

// ClassOf walks err's Unwrap chain looking for a Classifier and returns
// its class, or Unclassified if none is found.
func ClassOf(err error) Class {
	if err == nil {
		return Class("none")
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.Class()
	}
	return Unclassified
}

// IsRetryable is a convenience wrapper over ClassOf for the common
// retry-loop check.
func IsRetryable(err error) bool {
	return ClassOf(err) == Retryable
}
