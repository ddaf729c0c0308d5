package httpimpl

import (
	"net/http"
	"time"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/stores/locks"
	"github.com/labstack/echo/v4"
)

// PostLock acquires a lock on behalf of the caller. The lock is held by the server until
// DeleteLock releases it. The optional timeout query parameter is a duration, 0 waits until the
// request is canceled.
func (h *HTTP) PostLock(c echo.Context) error {
	name := c.Param("name")

	var opts []locks.LockOption

	if timeout := c.QueryParam("timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return h.sendError(c, "PostLock", errors.NewInvalidArgumentError("invalid timeout %q", timeout, err))
		}

		opts = append(opts, locks.WithTimeout(d))
	}

	if err := h.storage.Lock(c.Request().Context(), name, opts...); err != nil {
		return h.sendError(c, "PostLock", err)
	}

	prometheusHTTPRequests.WithLabelValues("PostLock", http.StatusText(http.StatusOK)).Inc()

	return c.JSON(http.StatusOK, map[string]bool{"locked": true})
}

func (h *HTTP) DeleteLock(c echo.Context) error {
	released, err := h.storage.Unlock(c.Param("name"))
	if err != nil {
		return h.sendError(c, "DeleteLock", err)
	}

	prometheusHTTPRequests.WithLabelValues("DeleteLock", http.StatusText(http.StatusOK)).Inc()

	return c.JSON(http.StatusOK, map[string]bool{"released": released})
}
