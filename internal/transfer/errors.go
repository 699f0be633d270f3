package transfer

import "errors"

var (
	ErrBusy              = errors.New("transfer: handle is already running")
	ErrClosed            = errors.New("transfer: handle is closed")
	ErrAlreadyRegistered = errors.New("transfer: handle already registered with the dispatcher")
	ErrNoStreamHandler   = errors.New("transfer: response streaming enabled without a stream handler")
	ErrInvalidSource     = errors.New("transfer: upload source is not a usable stream")
	ErrFeatureConflict   = errors.New("transfer: feature combination is not allowed")
	ErrUnknownFeature    = errors.New("transfer: unknown feature")

	errPauseRequested = errors.New("transfer: pause already requested")

	// ErrSourceDestroyed is the fault recorded when an upload source is
	// destroyed without an error before it ended.
	ErrSourceDestroyed = errors.New("transfer: upload source destroyed before it ended")
	// ErrSinkDestroyed is the fault recorded when a response sink is
	// destroyed without an error before the transfer ended.
	ErrSinkDestroyed = errors.New("transfer: response sink destroyed before the transfer ended")
)
