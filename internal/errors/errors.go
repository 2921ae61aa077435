// Package errors classifies every failure path of the aggregator into the
// taxonomy the rest of the system branches on: transient vs. permanent
// transport errors, parse warnings, capacity limits, circuit state, and
// plugin sandbox failures.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the top-level classification of an aggregator error.
type Kind string

const (
	KindTransport       Kind = "transport"
	KindParse           Kind = "parse"
	KindCertificate     Kind = "certificate"
	KindConfig          Kind = "config"
	KindTimeout         Kind = "timeout"
	KindCircuitOpen     Kind = "circuit_open"
	KindAtCapacity      Kind = "at_capacity"
	KindNotFound        Kind = "not_found"
	KindPluginTrapped   Kind = "plugin_trapped"
	KindPluginTimedOut  Kind = "plugin_timed_out"
	KindPluginUnhealthy Kind = "plugin_unhealthy"
	KindBackpressure    Kind = "backpressure"
	KindDisconnected    Kind = "disconnected"
)

// Error is the concrete, serializable error type carried across the system.
// Transport errors additionally record whether they are Transient (eligible
// for reconnect-with-backoff) or permanent (moves the connection to Failed).
type Error struct {
	Kind      Kind
	Transient bool
	Op        string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match for any *Error target with the same Kind, so
// errors.Is(err, NotFound("")) matches every not-found error regardless of
// Op or wrapped cause. A bare Kind value is not an error and never matches.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Transport builds a transport-kind error, classified transient or
// permanent per spec: timeouts/resets/DNS failures are transient and drive
// reconnect-with-backoff; auth/certificate/protocol-negotiation failures are
// permanent and move the connection straight to Failed.
func Transport(op string, err error, transient bool) *Error {
	return &Error{Op: op, Kind: KindTransport, Transient: transient, Err: err}
}

func NotFound(op string) *Error       { return New(op, KindNotFound) }
func AtCapacity(op string) *Error     { return New(op, KindAtCapacity) }
func CircuitOpen(op string) *Error    { return New(op, KindCircuitOpen) }
func Disconnected(op string) *Error   { return New(op, KindDisconnected) }
func Timeout(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTimeout, Err: err}
}

// KindOf extracts the Kind of err, or "" if err does not carry one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is a transport error classified as
// transient (eligible for automatic reconnect).
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransport && e.Transient
	}
	return false
}
