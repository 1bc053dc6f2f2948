package entity

import "errors"

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderExists       = errors.New("order already exists")
	ErrOrderTerminal     = errors.New("order already in terminal status")
	ErrSlippageExceeded  = errors.New("slippage tolerance exceeded")
	ErrEventOutOfOrder   = errors.New("status event out of order")
	ErrEmptyEventHistory = errors.New("empty status event history")
)

// PermanentError marks a failure that retrying cannot fix. Retry loops
// unwrap and surface the cause immediately instead of burning attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// MarkPermanent wraps err so IsPermanent reports true for it.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
