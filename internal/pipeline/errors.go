package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// UserError carries a message that is safe to show as-is.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

// ErrUnrenderable is returned when a document has no usable text layer and
// no page could be rendered.
var ErrUnrenderable = &UserError{Message: MsgUnrenderable}

// StepError identifies the pipeline step that failed.
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline step %d (%s) failed: %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailureMessage turns a pipeline error into the text stored on the
// statement and sent in the failure notification.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimedOut
	}

	var se *StepError
	if errors.As(err, &se) {
		err = se.Err
	}
	msg := strings.ToValidUTF8(msgFailedPrefix+err.Error(), "\uFFFD")
	if len(msg) > maxErrorMessageLen {
		cut := maxErrorMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
