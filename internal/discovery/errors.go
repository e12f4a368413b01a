package discovery

import "errors"

type ErrorKind string

const (
	ErrKindToolFailed    ErrorKind = "TOOL_FAILED"
	ErrKindScanBusy      ErrorKind = "SCAN_IN_PROGRESS"
	ErrKindStoreConflict ErrorKind = "STORE_CONFLICT"
)

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsKind(err error, kind ErrorKind) bool {
	var derr *Error
	return errors.As(err, &derr) && derr.Kind == kind
}
