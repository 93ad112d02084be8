package session

import (
	"errors"
	"fmt"
)

// Kind classifies errors that end a turn.
type Kind int

const (
	NetworkError Kind = iota + 1
	EmptyRecognitionResult
	AudioSessionSetupError
)

func (k Kind) String() string {
	switch k {
	case NetworkError:
		return "network error"
	case EmptyRecognitionResult:
		return "empty recognition result"
	case AudioSessionSetupError:
		return "audio session setup error"
	default:
		return "error"
	}
}

// Error is a turn-ending failure. It is never fatal to the session.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the Kind of err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

var (
	ErrInvalidState = errors.New("session: operation not valid in current state")
	ErrNotListening = errors.New("session: not listening")
	ErrEmptyInput   = errors.New("session: empty input")
	ErrClosed       = errors.New("session: closed")
	ErrNoSpeech     = errors.New("no speech was recognized")
)
