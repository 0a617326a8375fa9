// errors.go - Fehlercodes der Ausfuehrungsschicht
//
// Enthaelt:
// - ErrOutOfRange: Datenquelle erschoepft
// - ErrAborted/ErrUnavailable: Wiederherstellbare Transport-/Koordinationsfehler
// - ErrFailedPrecondition/ErrInvalidArgument/ErrGraphInUse/ErrSessionClosed
// - IsRecoverable: Klassifikation wiederherstellbarer Fehler
package ml

import "errors"

var (
	// ErrOutOfRange is returned by an iterator whose data is exhausted.
	ErrOutOfRange = errors.New("out of range")

	// ErrAborted reports a step aborted by a coordination conflict.
	ErrAborted = errors.New("aborted")

	// ErrUnavailable reports a transport fault against the master or a peer.
	ErrUnavailable = errors.New("unavailable")

	ErrFailedPrecondition = errors.New("failed precondition")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrGraphInUse         = errors.New("graph already has an open session")
	ErrSessionClosed      = errors.New("session is closed")
)

// IsRecoverable reports whether err ends a session gracefully rather than
// failing the caller.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, ErrUnavailable)
}
