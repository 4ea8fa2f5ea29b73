package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dozenflow-api/domain"
)

// timestampLayout renders dd-MM-yyyy hh:mm:ss with a 12 hour clock.
const timestampLayout = "02-01-2006 03:04:05"

const internalMessage = "An unexpected error occurred. Please contact support."

type errorResponse struct {
	Status    int      `json:"status"`
	Timestamp string   `json:"timestamp"`
	Message   string   `json:"message"`
	SubErrors []string `json:"subErrors,omitempty"`
}

// NewErrorHandler returns an echo.HTTPErrorHandler that renders every failure
// as an errorResponse. Internal errors are logged with the request id and
// never exposed to the caller.
func NewErrorHandler(logger *log.Logger, now func() time.Time) echo.HTTPErrorHandler {
	if now == nil {
		now = time.Now
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		de := classify(err, c.Request())
		status := statusFor(de.Kind)
		body := errorResponse{
			Status:    status,
			Timestamp: now().Format(timestampLayout),
			Message:   de.Msg,
		}
		for _, f := range de.Fields {
			body.SubErrors = append(body.SubErrors, f.String())
		}
		if de.Kind == domain.KindInternal {
			body.Message = internalMessage
			if logger != nil {
				logger.WithFields(log.Fields{
					"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
					"method":     c.Request().Method,
					"path":       c.Request().URL.Path,
					"error":      err.Error(),
				}).Error("request failed")
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil && logger != nil {
			logger.WithError(werr).Warn("write error response")
		}
	}
}

// classify turns any error reaching the HTTP boundary into a domain error.
func classify(err error, req *http.Request) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusNotFound:
			return &domain.Error{Kind: domain.KindRouteNotFound, Msg: "Resource not found at path: " + req.URL.Path, Err: err}
		case http.StatusMethodNotAllowed:
			return &domain.Error{Kind: domain.KindMethodNotAllowed, Msg: fmt.Sprintf("Method %s not supported for path: %s", req.Method, req.URL.Path), Err: err}
		case http.StatusRequestEntityTooLarge:
			return &domain.Error{Kind: domain.KindBadRequest, Msg: "Request body too large", Err: err}
		case http.StatusBadRequest, http.StatusUnsupportedMediaType:
			return &domain.Error{Kind: domain.KindBadRequest, Msg: fmt.Sprint(he.Message), Err: err}
		case http.StatusUnauthorized:
			return &domain.Error{Kind: domain.KindUnauthorized, Msg: fmt.Sprint(he.Message), Err: err}
		}
	}

	return &domain.Error{Kind: domain.KindInternal, Msg: internalMessage, Err: err}
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindNotFound, domain.KindRouteNotFound:
		return http.StatusNotFound
	case domain.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
