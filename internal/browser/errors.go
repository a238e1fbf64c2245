package browser

import (
	"context"
	"errors"
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrLaunchTimeout     = errors.New("browser launch timed out")
	ErrNoBrowserOpen     = errors.New("no browser open")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrProcessCrashed    = errors.New("browser process crashed")
	ErrNavigation        = errors.New("navigation failed")
	ErrSessionLimit      = errors.New("session limit reached")
	ErrSessionClosed     = errors.New("session closed")
)

// Kind is the stable, transport-independent name of an error class.
type Kind string

const (
	KindEngineUnavailable Kind = "EngineUnavailable"
	KindLaunchTimeout     Kind = "LaunchTimeout"
	KindNoBrowserOpen     Kind = "NoBrowserOpen"
	KindIndexOutOfRange   Kind = "IndexOutOfRange"
	KindUnknownCommand    Kind = "UnknownCommand"
	KindMalformedPayload  Kind = "MalformedPayload"
	KindProcessCrashed    Kind = "ProcessCrashed"
	KindNavigation        Kind = "NavigationFailed"
	KindSessionLimit      Kind = "SessionLimit"
	KindSessionClosed     Kind = "SessionClosed"
	KindCanceled          Kind = "Canceled"
	KindInternal          Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrEngineUnavailable, KindEngineUnavailable},
	{ErrLaunchTimeout, KindLaunchTimeout},
	{ErrNoBrowserOpen, KindNoBrowserOpen},
	{ErrIndexOutOfRange, KindIndexOutOfRange},
	{ErrUnknownCommand, KindUnknownCommand},
	{ErrMalformedPayload, KindMalformedPayload},
	{ErrProcessCrashed, KindProcessCrashed},
	{ErrNavigation, KindNavigation},
	{ErrSessionLimit, KindSessionLimit},
	{ErrSessionClosed, KindSessionClosed},
	{context.Canceled, KindCanceled},
}

// KindOf classifies err. It returns "" for nil and KindInternal for errors
// that wrap none of the package sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsValidation reports whether err was raised before any side effect.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindUnknownCommand, KindMalformedPayload, KindIndexOutOfRange:
		return true
	}
	return false
}

// ErrorForKind returns the sentinel for kind, or nil when kind has none.
// Clients use it to rebuild errors received over the wire.
func ErrorForKind(kind Kind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
