package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
)

// WithMethod is a middleware that checks if the endpoint was called using a
// specific HTTP method and rejects it otherwise.
func WithMethod(next http.HandlerFunc, method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, fmt.Sprintf("Only %s method is allowed", method), http.StatusMethodNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// WithJSONResponse wraps an APIHandler and handles JSON response formatting
func WithJSONResponse(handler APIHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := handler(w, r)

		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			status, response := errorResponse(err)
			w.WriteHeader(status)

			if err := json.NewEncoder(w).Encode(response); err != nil {
				slog.Error("couldn't encode error response", "error", err)
			}
			return
		}

		successResponse := SuccessResponse{
			Ok:   true,
			Data: data,
		}

		if err := json.NewEncoder(w).Encode(successResponse); err != nil {
			http.Error(w, `{"ok": false, "errorCode": "INTERNAL_ERROR", "errorDescription": "Failed to encode success response"}`, http.StatusInternalServerError)
			return
		}
	}
}

func errorResponse(err error) (int, ErrorResponse) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		slog.Debug("API error", "error", err, "description", apiErr.Description)
		return http.StatusBadRequest, ErrorResponse{
			ErrorCode:        string(apiErr.Code),
			ErrorDescription: apiErr.Description,
		}
	}

	var se apperr.ServiceError
	if !errors.As(err, &se) {
		slog.Error("unclassified API error", "error", err)
		return http.StatusInternalServerError, ErrorResponse{
			ErrorCode:        string(apperr.CodeInternal),
			ErrorDescription: apperr.UserMessage(apperr.CodeInternal),
		}
	}

	description := apperr.UserMessage(se.Code)
	switch apperr.KindOf(se.Code) {
	case apperr.KindInput, apperr.KindPrecondition:
		description = se.Message
		slog.Debug("ServiceError", "code", se.Code, "error", se, "cause", se.Err)
	default:
		slog.Error("ServiceError", "code", se.Code, "error", se, "cause", se.Err)
	}

	return httpStatus(se.Code), ErrorResponse{
		ErrorCode:        string(se.Code),
		ErrorDescription: description,
	}
}
