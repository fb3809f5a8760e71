// Package apierror translates failures from the session, store, and
// backend layers into the JSON error envelope served by the agent API.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// Envelope is the body of every error response.
type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError classifies err and picks the HTTP status for it. The returned
// error carries the request ID so clients can quote it on support paths.
// A nil err maps to (nil, 200).
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context expiry outranks any wrapped classification.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrTimeout,
			Message:   "request timed out",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrTimeout,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromType(out.Type)
	}

	// Unknown errors become opaque internals so backend details do not leak.
	return &core.Error{
		Type:      core.ErrInternal,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusFromType maps the error taxonomy onto HTTP statuses.
func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrUnauthorized:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrTimeout:
		return http.StatusGatewayTimeout
	case core.ErrConnectivity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes coreErr as the envelope under the given status.
func Write(w http.ResponseWriter, status int, coreErr *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: coreErr})
}

// WriteError classifies err and writes the mapped envelope. It does
// nothing when err is nil.
func WriteError(w http.ResponseWriter, err error, requestID string) {
	coreErr, status := FromError(err, requestID)
	if coreErr == nil {
		return
	}
	Write(w, status, coreErr)
}
