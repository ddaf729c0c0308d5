package httpimpl

import (
	"io"
	"net/http"
	"net/url"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/labstack/echo/v4"
)

// cache values set over http are stored as strings
type cacheEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func cacheKey(c echo.Context) (string, error) {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil {
		return "", errors.NewInvalidArgumentError("invalid cache key %q", c.Param("key"), err)
	}

	return key, nil
}

func (h *HTTP) GetCache(c echo.Context) error {
	key, err := cacheKey(c)
	if err != nil {
		return h.sendError(c, "GetCache", err)
	}

	var value string

	found, err := h.storage.Cache().Get(c.Request().Context(), key, &value)
	if err != nil {
		return h.sendError(c, "GetCache", err)
	}

	if !found {
		return h.sendError(c, "GetCache", errors.NewNotFoundError("cache entry %q not found", key))
	}

	prometheusHTTPRequests.WithLabelValues("GetCache", http.StatusText(http.StatusOK)).Inc()

	return c.JSON(http.StatusOK, &cacheEntry{Key: key, Value: value})
}

func (h *HTTP) PutCache(c echo.Context) error {
	key, err := cacheKey(c)
	if err != nil {
		return h.sendError(c, "PutCache", err)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.sendError(c, "PutCache", errors.NewInvalidArgumentError("failed to read cache value", err))
	}

	if err = h.storage.Cache().Put(c.Request().Context(), key, string(body)); err != nil {
		return h.sendError(c, "PutCache", err)
	}

	prometheusHTTPRequests.WithLabelValues("PutCache", http.StatusText(http.StatusNoContent)).Inc()

	return c.NoContent(http.StatusNoContent)
}

func (h *HTTP) DeleteCache(c echo.Context) error {
	key, err := cacheKey(c)
	if err != nil {
		return h.sendError(c, "DeleteCache", err)
	}

	removed, err := h.storage.Cache().Remove(c.Request().Context(), key)
	if err != nil {
		return h.sendError(c, "DeleteCache", err)
	}

	prometheusHTTPRequests.WithLabelValues("DeleteCache", http.StatusText(http.StatusOK)).Inc()

	return c.JSON(http.StatusOK, map[string]bool{"removed": removed})
}
