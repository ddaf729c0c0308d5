package httpimpl

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/services/storage"
	"github.com/bsv-blockchain/blockvault/stores/blocks"
	"github.com/labstack/echo/v4"
	"github.com/ordishs/gocore"
)

// PostFile saves the request body. The body is spooled to a temporary file first, because the
// payload is read twice.
func (h *HTTP) PostFile(c echo.Context) error {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("PostFile_http").AddTime(start)
	}()

	applicationCode := c.QueryParam("application")
	if applicationCode == "" {
		return h.sendError(c, "PostFile", errors.NewInvalidArgumentError("missing application query parameter"))
	}

	tmp, err := os.CreateTemp("", "blockvault-upload-*")
	if err != nil {
		return h.sendError(c, "PostFile", errors.NewStorageError("failed to create upload file", err))
	}

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err = io.Copy(tmp, c.Request().Body); err != nil {
		return h.sendError(c, "PostFile", errors.NewStorageError("failed to receive upload", err))
	}

	var opts []storage.SaveOption

	if filename := c.QueryParam("filename"); filename != "" {
		opts = append(opts, storage.WithFilename(filename))
	}

	if title := c.QueryParam("title"); title != "" {
		opts = append(opts, storage.WithTitle(title))
	}

	file, err := h.storage.Save(c.Request().Context(), blocks.Stream{ReadSeeker: tmp}, applicationCode, c.QueryParam("code_key"), opts...)
	if err != nil {
		return h.sendError(c, "PostFile", err)
	}

	prometheusHTTPRequests.WithLabelValues("PostFile", http.StatusText(http.StatusCreated)).Inc()

	return c.JSON(http.StatusCreated, file)
}

// GetFile streams the content of a file, referred to by id or key.
func (h *HTTP) GetFile(c echo.Context) error {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("GetFile_http").AddTime(start)
	}()

	file, f, err := h.storage.Read(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return h.sendError(c, "GetFile", err)
	}

	defer f.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentLength, strconv.FormatInt(f.Size(), 10))
	header.Set("X-File-Key", file.Key)
	header.Set("X-File-Code", file.Code)

	if file.Filename != "" {
		header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename))
	}

	prometheusHTTPRequests.WithLabelValues("GetFile", http.StatusText(http.StatusOK)).Inc()

	return c.Stream(http.StatusOK, file.Mimetype, f)
}

func (h *HTTP) DeleteFile(c echo.Context) error {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat("DeleteFile_http").AddTime(start)
	}()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return h.sendError(c, "DeleteFile", errors.NewInvalidArgumentError("invalid file id %q", c.Param("id"), err))
	}

	deleted, err := h.storage.Delete(c.Request().Context(), id)
	if err != nil {
		return h.sendError(c, "DeleteFile", err)
	}

	prometheusHTTPRequests.WithLabelValues("DeleteFile", http.StatusText(http.StatusOK)).Inc()

	return c.JSON(http.StatusOK, map[string]bool{"deleted": deleted})
}
