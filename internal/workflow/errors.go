package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/categorize"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/models"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrMissingState       = errors.New("missing workflow state")
	ErrNoFiles            = errors.New("no files selected")
	ErrInvalidCredentials = errors.New("invalid cloud credentials")
	ErrNothingToDetect    = errors.New("nothing to detect")
	ErrMissingCategory    = errors.New("missing category mapping")
	ErrInvalidInput       = errors.New("invalid input")
)

// Error is a workflow failure with a message for the user and the step the
// user should be sent back to.
type Error struct {
	Err      error
	Message  string
	Redirect models.Step
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(err error, redirect models.Step, format string, args ...any) *Error {
	return &Error{Err: err, Message: fmt.Sprintf(format, args...), Redirect: redirect}
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a message shown to the user, optionally sending them to a
// different step.
type Notice struct {
	Level    Level       `json:"level"`
	Message  string      `json:"message"`
	Redirect models.Step `json:"redirect,omitempty"`
}

func Info(msg string) *Notice {
	return &Notice{Level: LevelInfo, Message: msg}
}

func Success(msg string) *Notice {
	return &Notice{Level: LevelSuccess, Message: msg}
}

// NoticeFor converts an error into the notice shown to the user.
func NoticeFor(err error) *Notice {
	if err == nil {
		return nil
	}

	var werr *Error
	if errors.As(err, &werr) {
		return &Notice{Level: LevelError, Message: werr.Message, Redirect: werr.Redirect}
	}

	var verr *cloudconfig.ValidationError
	if errors.As(err, &verr) {
		return &Notice{Level: LevelError, Message: verr.Message, Redirect: models.StepCloudConfig}
	}

	var serr *backend.StatusError
	switch {
	case errors.As(err, &serr):
		return &Notice{Level: LevelError, Message: serr.Message}
	case errors.Is(err, categorize.ErrNotSelected):
		return &Notice{Level: LevelError, Message: "Cannot move unselected entity"}
	case errors.Is(err, categorize.ErrUnknownCategory):
		return &Notice{Level: LevelError, Message: "Unknown category"}
	case errors.Is(err, backend.ErrTransport):
		return &Notice{Level: LevelError, Message: "The analysis service is unreachable. Please try again."}
	case errors.Is(err, backend.ErrMalformedPayload):
		return &Notice{Level: LevelError, Message: "The analysis service returned an unexpected response."}
	case errors.Is(err, context.DeadlineExceeded):
		return &Notice{Level: LevelError, Message: "The request timed out."}
	case errors.Is(err, ErrSessionNotFound):
		return &Notice{Level: LevelError, Message: "Your session has expired. Please start again.", Redirect: models.StepUpload}
	}
	return &Notice{Level: LevelError, Message: err.Error()}
}
