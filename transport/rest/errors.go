package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"goa.design/clue/log"

	"github.com/modulith/orchestration/runtime/execution"
)

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// StatusCode returns the HTTP status rendering err.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, execution.ErrClassInvalid),
		errors.Is(err, execution.ErrInvalidSchedule),
		errors.Is(err, execution.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, execution.ErrNotRegistered), errors.Is(err, execution.ErrIDNotFound):
		return http.StatusNotFound
	case errors.Is(err, execution.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, execution.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusCode(err)
	code := execution.Code(err)
	if errors.Is(err, errBadRequest) {
		code = "invalid_request"
	}
	if status >= http.StatusInternalServerError {
		log.Error(ctx, err, log.KV{K: "code", V: code})
	} else {
		log.Info(ctx, log.KV{K: "msg", V: "request rejected"}, log.KV{K: "code", V: code}, log.KV{K: "err", V: err.Error()})
	}
	respond(ctx, w, status, ErrorResponse{Code: code, Message: fmt.Sprint(err)})
}
