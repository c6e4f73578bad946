package session

import "errors"

var (
	// ErrDuplicateSession is returned by CreateSession when a live session
	// already exists for the call id. The existing session is kept.
	ErrDuplicateSession = errors.New("duplicate call session")

	// ErrSessionNotFound is returned when an operation names a call id with
	// no active session.
	ErrSessionNotFound = errors.New("call session not found")

	// ErrAcceptFailed is returned when the provider rejects the accept
	// request. The session is discarded; the call was never answered.
	ErrAcceptFailed = errors.New("call accept failed")

	// ErrStreamOpenFailed is returned when the event stream could not be
	// opened after retries for an already-accepted call.
	ErrStreamOpenFailed = errors.New("stream open failed")

	// ErrMalformedFunctionCall marks a function call event missing required
	// fields or carrying undecodable arguments. The stream continues.
	ErrMalformedFunctionCall = errors.New("malformed function call")

	// ErrIncompleteFinalization is returned when finalization could not
	// persist its results. The session is retained for manual recovery
	// instead of being marked closed.
	ErrIncompleteFinalization = errors.New("incomplete finalization")
)
