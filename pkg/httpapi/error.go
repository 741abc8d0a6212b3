package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/buildforge/buildforge/pkg/serrors"
)

// ErrorEnvelope is the JSON shape of every API error. Details carries
// the template data of coded errors, when present.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

// WriteError writes an explicit error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, &ErrorEnvelope{Code: code, Message: message})
}

// WriteErr maps a coded error onto the envelope, surfacing its code and
// template data. Errors without a code become the generic internal
// envelope; callers log those before handing them here.
func WriteErr(w http.ResponseWriter, status int, err error) error {
	envelope := &ErrorEnvelope{Code: "INTERNAL", Message: "internal server error"}
	var base *serrors.BaseError
	if errors.As(err, &base) {
		envelope.Code = base.Code
		envelope.Message = err.Error()
		envelope.Details = base.TemplateData
	}
	return WriteJSON(w, status, envelope)
}
