package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"campaignfund/internal/types"
)

// maxRequestBodySize caps JSON request bodies read through DecodeJSON.
const maxRequestBodySize = 64 << 10

// APIErrorResponse is the error envelope for every non-2xx answer. Error is
// always a human-readable string.
type APIErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON writes data with the given status. A marshal failure becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error:     "failed to marshal response",
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err using the envelope. An AppError supplies the status and
// code; 5xx messages are replaced with a generic one unless the code is
// one whose message was written for clients (config errors). Anything else
// is a 500 with no internals exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		resp := APIErrorResponse{
			Error:     appErr.Message,
			Code:      string(appErr.Code),
			RequestID: requestID,
		}
		if status < 500 {
			resp.Details = appErr.Details
		} else if appErr.Code != types.ErrCodeInternalConfig {
			resp.Error = publicMessage(appErr.Code)
		}
		JSON(w, r, status, resp)
		return
	}

	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
		Error:     "an unexpected error occurred",
		Code:      string(types.ErrCodeInternalUnexpected),
		RequestID: requestID,
	})
}

// ErrorWithStatus is Error with the status forced, for endpoints whose
// contract differs from the code's default mapping.
func ErrorWithStatus(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string) {
	JSON(w, r, status, APIErrorResponse{
		Error:     message,
		Code:      string(code),
		RequestID: types.GetRequestID(r.Context()),
	})
}

func publicMessage(code types.ErrorCode) string {
	switch code {
	case types.ErrCodeInternalStorage:
		return "storage unavailable"
	case types.ErrCodeInternalTimeout:
		return "request timed out"
	case types.ErrCodeUpstreamRazorpay, types.ErrCodeUpstreamUnavailable:
		return "upstream service unavailable"
	default:
		return "an unexpected error occurred"
	}
}

// DecodeJSON reads one JSON value from the body into dst. Unknown fields
// are ignored. Errors are validation AppErrors (400).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewValidationError(types.ErrCodeValidationInvalidJSON, "request body must contain a single JSON object")
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(types.ErrCodeValidationBodyTooLarge, "request body too large", err)
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(types.ErrCodeValidationEmptyBody, "Request body is required", err)
	}

	var unmarshalTypeErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid value for field", err).
			WithDetails(map[string]any{
				"field":    unmarshalTypeErr.Field,
				"expected": unmarshalTypeErr.Type.String(),
			})
	}

	return types.NewAppError(types.ErrCodeValidationInvalidJSON, "Invalid JSON in request body", err)
}
