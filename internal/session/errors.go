package session

import (
	"errors"
	"fmt"
)

// BusyError rejects an operation because another one is in flight. Op names
// the blocking operation when it is not visible in State (teardown).
type BusyError struct {
	State Kind
	Op    string
}

func (e *BusyError) Error() string {
	if e.Op != "" {
		return "session busy: " + e.Op + " in progress"
	}
	return fmt.Sprintf("session busy: %s", e.State)
}

// IsBusy reports whether err is a *BusyError.
func IsBusy(err error) bool {
	var be *BusyError
	return errors.As(err, &be)
}

// ErrNotReady rejects an operation that needs a loaded, idle model (or, for
// Cancel, a running generation).
var ErrNotReady = errors.New("session not ready")

func notReady(k Kind) error { return fmt.Errorf("%w: %s", ErrNotReady, k) }

// IsNotReady reports whether err wraps ErrNotReady.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// errSuperseded is returned by Load when a teardown overtook it. It is a
// busy rejection so HTTP callers see 409.
var errSuperseded error = &BusyError{State: KindUnloaded, Op: "teardown"}
