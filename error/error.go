package error

import "errors"

var (
	ErrVMNotAttached      = errors.New("no vm attached")
	ErrDebuggerIsClosed   = errors.New("debugger is closed")
	ErrNotStopped         = errors.New("the program is running")
	ErrInvalidReference   = errors.New("invalid variable reference")
	ErrEvaluateFailed     = errors.New("evaluate failed")
	ErrChannelClosed      = errors.New("transport channel closed")
	ErrFrameNotFound      = errors.New("stack frame not found")
	ErrVariableNotFound   = errors.New("variable not found")
	ErrSourceNotAvailable = errors.New("source not available")
)
