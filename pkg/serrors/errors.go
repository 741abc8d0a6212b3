package serrors

import (
	"errors"
	"fmt"
)

// BaseError is the standard coded error used across service boundaries.
// Code is stable and machine-readable; Message is for humans; LocaleKey
// points at a translation entry for API consumers that localize.
type BaseError struct {
	Code         string
	Message      string
	LocaleKey    string
	TemplateData map[string]string
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{Code: code, Message: message, LocaleKey: localeKey}
}

func (e *BaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	e.TemplateData = data
	return e
}

// Is matches any BaseError carrying the same code, so sentinel errors can
// be compared with errors.Is while instances carry specific messages.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	return ok && t.Code == e.Code
}

// HasCode reports whether err wraps a BaseError with the given code.
func HasCode(err error, code string) bool {
	var be *BaseError
	return errors.As(err, &be) && be.Code == code
}

// CodeOf returns the code of the wrapped BaseError, or "" if there is none.
func CodeOf(err error) string {
	var be *BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func NewFieldRequiredError(field, localeKey string) *BaseError {
	return NewError("FIELD_REQUIRED", fmt.Sprintf("%s is required", field), localeKey).
		WithTemplateData(map[string]string{"field": field})
}
