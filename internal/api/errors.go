package api

import (
	"net/http"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
)

type APIErrorCode string

const (
	BadRequest    APIErrorCode = "BAD_REQUEST"
	InvalidParams APIErrorCode = "INVALID_PARAMS"
)

// APIError is a request level failure that never reached the pipeline.
type APIError struct {
	Code        APIErrorCode
	Description string
}

func (e *APIError) Error() string {
	return string(e.Code)
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindInput:        http.StatusBadRequest,
	apperr.KindPrecondition: http.StatusUnprocessableEntity,
	apperr.KindExecution:    http.StatusBadGateway,
	apperr.KindInternal:     http.StatusInternalServerError,
}

var statusByCode = map[apperr.ErrorCode]int{
	apperr.CodeRateLimited:         http.StatusTooManyRequests,
	apperr.CodeTransactionNotFound: http.StatusNotFound,
	apperr.CodeSessionNotFound:     http.StatusNotFound,
}

func httpStatus(code apperr.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return statusByKind[apperr.KindOf(code)]
}
