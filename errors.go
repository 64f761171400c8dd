package gst

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("gst: library not initialized")
	ErrNotWritable    = errors.New("gst: object is not writable")
	ErrFieldNotFound  = errors.New("gst: field not found")
	ErrNotMapped      = errors.New("gst: memory not mapped")
	ErrMapFailed      = errors.New("gst: failed to map memory")
	ErrPoolInactive   = errors.New("gst: buffer pool is not active")
	ErrPoolFlushing   = errors.New("gst: buffer pool is flushing")
	ErrParse          = errors.New("gst: parse error")
	ErrNoSuchFactory  = errors.New("gst: no such element factory")
)

// FieldTypeError is returned when a Structure field holds a different type than requested.
type FieldTypeError struct {
	Field     string
	Requested string
	Actual    string
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("gst: field %q has type %s, requested %s", e.Field, e.Actual, e.Requested)
}

// ErrorDomain identifies the family of a GError.
type ErrorDomain int

const (
	DomainCore ErrorDomain = iota + 1
	DomainLibrary
	DomainResource
	DomainStream
)

func (d ErrorDomain) String() string {
	switch d {
	case DomainCore:
		return "gst-core-error-quark"
	case DomainLibrary:
		return "gst-library-error-quark"
	case DomainResource:
		return "gst-resource-error-quark"
	case DomainStream:
		return "gst-stream-error-quark"
	default:
		return "unknown-error-quark"
	}
}

// CoreError codes.
type CoreError int

const (
	CoreErrorFailed CoreError = iota + 1
	CoreErrorTooLazy
	CoreErrorNotImplemented
	CoreErrorStateChange
	CoreErrorPad
	CoreErrorThread
	CoreErrorNegotiation
	CoreErrorEvent
	CoreErrorSeek
	CoreErrorCaps
	CoreErrorTag
	CoreErrorMissingPlugin
	CoreErrorClock
	CoreErrorDisabled
)

// LibraryError codes.
type LibraryError int

const (
	LibraryErrorFailed LibraryError = iota + 1
	LibraryErrorTooLazy
	LibraryErrorInit
	LibraryErrorShutdown
	LibraryErrorSettings
	LibraryErrorEncode
)

// ResourceError codes.
type ResourceError int

const (
	ResourceErrorFailed ResourceError = iota + 1
	ResourceErrorTooLazy
	ResourceErrorNotFound
	ResourceErrorBusy
	ResourceErrorOpenRead
	ResourceErrorOpenWrite
	ResourceErrorOpenReadWrite
	ResourceErrorClose
	ResourceErrorRead
	ResourceErrorWrite
	ResourceErrorSeek
	ResourceErrorSync
	ResourceErrorSettings
	ResourceErrorNoSpaceLeft
	ResourceErrorNotAuthorized
)

// StreamError codes.
type StreamError int

const (
	StreamErrorFailed StreamError = iota + 1
	StreamErrorTooLazy
	StreamErrorNotImplemented
	StreamErrorTypeNotFound
	StreamErrorWrongType
	StreamErrorCodecNotFound
	StreamErrorDecode
	StreamErrorEncode
	StreamErrorDemux
	StreamErrorMux
	StreamErrorFormat
	StreamErrorDecrypt
	StreamErrorDecryptNoKey
)

// ErrorCode is implemented by the typed code enums of every domain.
type ErrorCode interface {
	Domain() ErrorDomain
	Code() int
}

func (c CoreError) Domain() ErrorDomain     { return DomainCore }
func (c CoreError) Code() int               { return int(c) }
func (c LibraryError) Domain() ErrorDomain  { return DomainLibrary }
func (c LibraryError) Code() int            { return int(c) }
func (c ResourceError) Domain() ErrorDomain { return DomainResource }
func (c ResourceError) Code() int           { return int(c) }
func (c StreamError) Domain() ErrorDomain   { return DomainStream }
func (c StreamError) Code() int             { return int(c) }

// GError is a domain-qualified error as carried by error/warning/info messages.
type GError struct {
	Domain  ErrorDomain
	Code    int
	Message string
}

// NewError builds a GError for a typed code.
func NewError(code ErrorCode, format string, args ...any) *GError {
	return &GError{Domain: code.Domain(), Code: code.Code(), Message: fmt.Sprintf(format, args...)}
}

func (e *GError) Error() string {
	return fmt.Sprintf("%s (%s:%d)", e.Message, e.Domain, e.Code)
}

// Matches reports whether the error carries the given typed code.
func (e *GError) Matches(code ErrorCode) bool {
	return e != nil && e.Domain == code.Domain() && e.Code == code.Code()
}

// Is lets errors.Is compare a GError against a typed code wrapped by NewError.
func (e *GError) Is(target error) bool {
	t, ok := target.(*GError)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Code == t.Code
}

// PanicError wraps a value recovered from user code at a boundary.
type PanicError struct {
	Where string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("gst: panic in %s: %v", e.Where, e.Value)
}

// catchPanic converts a panic raised by user code into an error, logging it with ctx.
// It must be deferred directly.
func catchPanic(cat *DebugCategory, obj any, where string, errp *error) {
	if r := recover(); r != nil {
		cat.Error(obj, "panic in %s: %v", where, r)
		if errp != nil {
			*errp = &PanicError{Where: where, Value: r}
		}
	}
}
