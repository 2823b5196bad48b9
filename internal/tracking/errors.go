package tracking

import "errors"

var (
	ErrNoPositionSource    = errors.New("position source unavailable")
	ErrAlreadyActive       = errors.New("run already in progress")
	ErrNotActive           = errors.New("no active run")
	ErrNotOwner            = errors.New("run belongs to another user")
	ErrInsufficientSamples = errors.New("not enough points recorded to save run")
	ErrPersistence         = errors.New("run could not be saved")

	ErrSourceClosed  = errors.New("position source closed the subscription")
	ErrSourceTimeout = errors.New("position source timed out")
	ErrNotWatching   = errors.New("position source is not being watched")
)

// PersistenceError reports a failed save of a finished run. Its message is the
// detail supplied by the server when there is one.
type PersistenceError struct {
	Detail string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return ErrPersistence.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// detailer is implemented by client errors that carry a user facing message.
type detailer interface {
	UserMessage() string
}

func newPersistenceError(err error) *PersistenceError {
	pe := &PersistenceError{Err: err}
	var d detailer
	if errors.As(err, &d) {
		pe.Detail = d.UserMessage()
	}
	return pe
}
