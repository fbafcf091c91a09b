package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labprice/labprice/internal/platform/apperrors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	IDs     []string `json:"ids,omitempty"`
}

// ErrorHandler renders apperrors with their status and kind, echo HTTP
// errors with their code, and anything else as an opaque 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Path()).Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("failed to write error response")
		}
	}
}

func errorResponse(err error) (int, ErrorBody) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return apperrors.HTTPStatus(appErr), ErrorBody{Kind: string(appErr.Kind), Message: appErr.Message, IDs: appErr.IDs}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprintf("%v", he.Message)
		kind := "HTTPError"
		if he.Code == http.StatusBadRequest {
			kind = string(apperrors.KindValidation)
		} else if he.Code == http.StatusNotFound {
			kind = string(apperrors.KindNotFound)
		}
		return he.Code, ErrorBody{Kind: kind, Message: msg}
	}

	return http.StatusInternalServerError, ErrorBody{Kind: "InternalError", Message: "internal server error"}
}
