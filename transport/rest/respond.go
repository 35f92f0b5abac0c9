package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"chatd/errors"
)

// Envelope is the uniform REST response shape.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// fail maps a domain sentinel onto an HTTP status and error code. Nothing
// beyond the sentinel's message crosses the boundary.
func fail(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case stderrors.Is(err, errors.ErrUserNotFound):
		status, code = http.StatusNotFound, "USER_NOT_FOUND"
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		status, code = http.StatusConflict, "USER_ALREADY_EXISTS"
	case stderrors.Is(err, errors.ErrInvalidMessage):
		status, code = http.StatusBadRequest, "INVALID_MESSAGE"
	case stderrors.Is(err, errors.ErrUnsupportedMediaKind):
		status, code = http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_KIND"
	case stderrors.Is(err, errors.ErrPayloadTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	case stderrors.Is(err, errors.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}
	writeJSON(w, status, Envelope{Success: false, ErrorCode: code, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, Envelope{Success: false, ErrorCode: "INVALID_REQUEST", Message: message})
}
