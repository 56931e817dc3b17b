// Package operation models a remote long-running operation: the handle returned
// at submission, the normalised status reported while polling, the terminal
// result handed to the fetcher and the downloaded artifact.
package operation

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// Handle is the opaque identifier returned by the submit call.
// It may contain path segments (e.g. "models/veo/operations/abc").
type Handle string

// String returns the handle as a plain string.
func (h Handle) String() string {
	return string(h)
}

// ShortID returns the last path segment of the handle.
func (h Handle) ShortID() string {
	s := strings.TrimRight(string(h), "/")
	if s == "" {
		return ""
	}
	return path.Base(s)
}

// State is the normalised state of an operation.
type State int

const (
	// StatePending means the operation has not finished yet.
	StatePending State = iota
	// StateSucceeded means the operation finished and produced a result locator.
	StateSucceeded
	// StateFailed means the operation finished with a service-reported error.
	StateFailed
)

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal returns true if no further state changes can occur.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ErrorDetail is the structured error reported by the service for a failed operation.
type ErrorDetail struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details,omitempty"`
}

// Status is a normalised operation status. Exactly one of the three states applies:
// Locator and Advisories are only set for StateSucceeded, Error only for StateFailed.
type Status struct {
	State      State
	Locator    string
	Advisories []string
	Error      *ErrorDetail
}

// Pending returns a status for an unfinished operation.
func Pending() Status {
	return Status{State: StatePending}
}

// Succeeded returns a terminal success status.
// Advisories are non-fatal notes such as partial content filtering.
func Succeeded(locator string, advisories ...string) Status {
	return Status{State: StateSucceeded, Locator: locator, Advisories: advisories}
}

// Failed returns a terminal failure status.
func Failed(detail ErrorDetail) Status {
	return Status{State: StateFailed, Error: &detail}
}

// RawStatus is the wire shape of a status check, before normalisation.
// Done and Error are independent on the wire.
type RawStatus struct {
	Done       bool
	Error      *ErrorDetail
	Locator    string
	Advisories []string
}

// Result is the terminal success payload produced by a poll loop.
type Result struct {
	Handle     Handle
	Locator    string
	Advisories []string
	// Checks is the number of status checks issued, including the terminal one.
	Checks int
	// Elapsed is the time from the start of polling to the terminal status.
	Elapsed time.Duration
}

// Status returns the result as a succeeded status, suitable for the fetcher.
func (r Result) Status() Status {
	return Succeeded(r.Locator, r.Advisories...)
}
