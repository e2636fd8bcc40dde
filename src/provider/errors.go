package provider

import (
	"errors"
	"fmt"
)

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WrapError converts loader errors to user-friendly messages
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrUnknownFormat) {
		return &UserError{
			Message: "Unrecognized workflow file",
			Hint:    "Supported formats:\n  - GitHub Actions: .github/workflows/*.yml\n  - Buildkite: .buildkite/pipeline.yml",
			Err:     err,
		}
	}

	return err
}
