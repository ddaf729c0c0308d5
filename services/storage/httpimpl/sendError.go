package httpimpl

import (
	"net/http"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Err    string `json:"error"`
}

// sendError answers with the http status matching the error code of err.
func (h *HTTP) sendError(c echo.Context, handler string, err error) error {
	status := http.StatusInternalServerError
	code := errors.ERR_UNKNOWN

	var e *errors.Error
	if errors.As(err, &e) {
		code = e.Code()
	}

	switch code {
	case errors.ERR_NOT_FOUND:
		status = http.StatusNotFound
	case errors.ERR_INVALID_ARGUMENT, errors.ERR_EMPTY_PAYLOAD:
		status = http.StatusBadRequest
	case errors.ERR_LOCK_TIMEOUT:
		status = http.StatusConflict
	case errors.ERR_CONTEXT_CANCELED:
		status = http.StatusRequestTimeout
	case errors.ERR_STORAGE_UNAVAILABLE, errors.ERR_TRANSIENT_IO:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Errorf("[HTTP][%s] %v", handler, err)
	} else {
		h.logger.Debugf("[HTTP][%s] %v", handler, err)
	}

	prometheusHTTPRequests.WithLabelValues(handler, http.StatusText(status)).Inc()

	return c.JSON(status, &errorResponse{
		Status: status,
		Code:   code.String(),
		Err:    err.Error(),
	})
}
