package gst

import (
	"errors"
	"fmt"
)

// FlowReturn is the result of pushing or pulling data. Values below FlowOK are
// errors and FlowReturn implements error for them.
type FlowReturn int

const (
	FlowCustomSuccess2 FlowReturn = 102
	FlowCustomSuccess1 FlowReturn = 101
	FlowCustomSuccess  FlowReturn = 100
	FlowOK             FlowReturn = 0
	FlowNotLinked      FlowReturn = -1
	FlowFlushing       FlowReturn = -2
	FlowEOS            FlowReturn = -3
	FlowNotNegotiated  FlowReturn = -4
	FlowError          FlowReturn = -5
	FlowNotSupported   FlowReturn = -6
	FlowCustomError    FlowReturn = -100
	FlowCustomError1   FlowReturn = -101
	FlowCustomError2   FlowReturn = -102
)

func (f FlowReturn) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowNotLinked:
		return "not-linked"
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	case FlowNotNegotiated:
		return "not-negotiated"
	case FlowError:
		return "error"
	case FlowNotSupported:
		return "not-supported"
	}
	switch {
	case f >= FlowCustomSuccess:
		return fmt.Sprintf("custom-success(%d)", int(f))
	case f <= FlowCustomError:
		return fmt.Sprintf("custom-error(%d)", int(f))
	}
	return fmt.Sprintf("flow(%d)", int(f))
}

// Error implements error for failing flow returns.
func (f FlowReturn) Error() string { return "gst: flow " + f.String() }

// IsSuccess reports whether f is FlowOK or a custom success.
func (f FlowReturn) IsSuccess() bool { return f >= FlowOK }

// Err returns nil for successes and f for errors.
func (f FlowReturn) Err() error {
	if f.IsSuccess() {
		return nil
	}
	return f
}

// FlowFromError maps err back to a FlowReturn. Unknown errors become FlowError.
func FlowFromError(err error) FlowReturn {
	if err == nil {
		return FlowOK
	}
	var f FlowReturn
	if errors.As(err, &f) {
		return f
	}
	return FlowError
}

// PadLinkReturn is the result of linking two pads.
type PadLinkReturn int

const (
	PadLinkOK             PadLinkReturn = 0
	PadLinkWrongHierarchy PadLinkReturn = -1
	PadLinkWasLinked      PadLinkReturn = -2
	PadLinkWrongDirection PadLinkReturn = -3
	PadLinkNoFormat       PadLinkReturn = -4
	PadLinkNoSched        PadLinkReturn = -5
	PadLinkRefused        PadLinkReturn = -6
)

// PadLinkError is a failed PadLinkReturn.
type PadLinkError PadLinkReturn

const (
	ErrPadLinkWrongHierarchy = PadLinkError(PadLinkWrongHierarchy)
	ErrPadLinkAlreadyLinked  = PadLinkError(PadLinkWasLinked)
	ErrPadLinkWrongDirection = PadLinkError(PadLinkWrongDirection)
	ErrPadLinkNoFormat       = PadLinkError(PadLinkNoFormat)
	ErrPadLinkNoSched        = PadLinkError(PadLinkNoSched)
	ErrPadLinkRefused        = PadLinkError(PadLinkRefused)
)

func (e PadLinkError) Error() string {
	switch PadLinkReturn(e) {
	case PadLinkWrongHierarchy:
		return "gst: pads have no common grandparent"
	case PadLinkWasLinked:
		return "gst: pad was already linked"
	case PadLinkWrongDirection:
		return "gst: pads have wrong direction"
	case PadLinkNoFormat:
		return "gst: pads do not have common format"
	case PadLinkNoSched:
		return "gst: pads cannot cooperate in scheduling"
	case PadLinkRefused:
		return "gst: refused for some other reason"
	}
	return fmt.Sprintf("gst: pad link error %d", int(e))
}

// Err returns nil for PadLinkOK.
func (r PadLinkReturn) Err() error {
	if r == PadLinkOK {
		return nil
	}
	return PadLinkError(r)
}

// State is an element state.
type State int

const (
	StateVoidPending State = iota
	StateNull
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateVoidPending:
		return "VOID_PENDING"
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StateChange is a transition between two adjacent states.
type StateChange int

func makeStateChange(from, to State) StateChange { return StateChange(int(from)<<3 | int(to)) }

var (
	StateChangeNullToReady      = makeStateChange(StateNull, StateReady)
	StateChangeReadyToPaused    = makeStateChange(StateReady, StatePaused)
	StateChangePausedToPlaying  = makeStateChange(StatePaused, StatePlaying)
	StateChangePlayingToPaused  = makeStateChange(StatePlaying, StatePaused)
	StateChangePausedToReady    = makeStateChange(StatePaused, StateReady)
	StateChangeReadyToNull      = makeStateChange(StateReady, StateNull)
	StateChangeNullToNull       = makeStateChange(StateNull, StateNull)
	StateChangeReadyToReady     = makeStateChange(StateReady, StateReady)
	StateChangePausedToPaused   = makeStateChange(StatePaused, StatePaused)
	StateChangePlayingToPlaying = makeStateChange(StatePlaying, StatePlaying)
)

// Current returns the state the transition starts from.
func (t StateChange) Current() State { return State(int(t) >> 3) }

// Next returns the state the transition ends in.
func (t StateChange) Next() State { return State(int(t) & 7) }

// IsUpward reports whether the transition goes towards PLAYING.
func (t StateChange) IsUpward() bool { return t.Next() > t.Current() }

func (t StateChange) String() string { return t.Current().String() + "->" + t.Next().String() }

// StateChangeReturn is the result of a state change.
type StateChangeReturn int

const (
	StateChangeFailure StateChangeReturn = iota
	StateChangeSuccess
	StateChangeAsync
	StateChangeNoPreroll
)

func (r StateChangeReturn) String() string {
	switch r {
	case StateChangeFailure:
		return "FAILURE"
	case StateChangeSuccess:
		return "SUCCESS"
	case StateChangeAsync:
		return "ASYNC"
	case StateChangeNoPreroll:
		return "NO_PREROLL"
	}
	return fmt.Sprintf("state-change-return(%d)", int(r))
}

// StateChangeError is returned when a state change fails.
type StateChangeError struct {
	Element    string
	Transition StateChange
	Err        error
}

func (e *StateChangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gst: %s: state change %s failed: %v", e.Element, e.Transition, e.Err)
	}
	return fmt.Sprintf("gst: %s: state change %s failed", e.Element, e.Transition)
}

func (e *StateChangeError) Unwrap() error { return e.Err }

// ClockReturn is the result of waiting on a clock entry.
type ClockReturn int

const (
	ClockOK ClockReturn = iota
	ClockEarly
	ClockUnscheduled
	ClockBusy
	ClockBadtime
	ClockErrorReturn
	ClockUnsupported
	ClockDone
)

func (r ClockReturn) String() string {
	switch r {
	case ClockOK:
		return "ok"
	case ClockEarly:
		return "early"
	case ClockUnscheduled:
		return "unscheduled"
	case ClockBusy:
		return "busy"
	case ClockBadtime:
		return "badtime"
	case ClockErrorReturn:
		return "error"
	case ClockUnsupported:
		return "unsupported"
	case ClockDone:
		return "done"
	}
	return fmt.Sprintf("clock-return(%d)", int(r))
}

// ClockError is a failing ClockReturn.
type ClockError ClockReturn

func (e ClockError) Error() string { return "gst: clock " + ClockReturn(e).String() }

// Err returns nil for ClockOK and ClockDone.
func (r ClockReturn) Err() error {
	if r == ClockOK || r == ClockDone {
		return nil
	}
	return ClockError(r)
}

// PadDirection is the dataflow direction of a pad.
type PadDirection int

const (
	PadDirectionUnknown PadDirection = iota
	PadDirectionSrc
	PadDirectionSink
)

func (d PadDirection) String() string {
	switch d {
	case PadDirectionSrc:
		return "src"
	case PadDirectionSink:
		return "sink"
	}
	return "unknown"
}

// Opposite returns the other direction.
func (d PadDirection) Opposite() PadDirection {
	switch d {
	case PadDirectionSrc:
		return PadDirectionSink
	case PadDirectionSink:
		return PadDirectionSrc
	}
	return PadDirectionUnknown
}

// PadPresence tells when pads from a template exist.
type PadPresence int

const (
	PadAlways PadPresence = iota
	PadSometimes
	PadRequest
)

func (p PadPresence) String() string {
	switch p {
	case PadAlways:
		return "always"
	case PadSometimes:
		return "sometimes"
	case PadRequest:
		return "request"
	}
	return "unknown"
}

// PadMode is the scheduling mode of a pad.
type PadMode int

const (
	PadModeNone PadMode = iota
	PadModePush
	PadModePull
)

func (m PadMode) String() string {
	switch m {
	case PadModePush:
		return "push"
	case PadModePull:
		return "pull"
	}
	return "none"
}
