// Package httpimpl exposes the storage over HTTP.
package httpimpl

import (
	"context"
	"net"
	"net/http"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/services/storage"
	"github.com/bsv-blockchain/blockvault/ulogger"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	stat = gocore.NewStat("http")
)

type HTTP struct {
	logger        ulogger.Logger
	storage       storage.Interface
	listenAddress string
	e             *echo.Echo
}

// New creates the http service. listenAddress is only used by Start.
func New(logger ulogger.Logger, s storage.Interface, listenAddress string) *HTTP {
	logger = logger.New("http")

	initPrometheusMetrics()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

	h := &HTTP{
		logger:        logger,
		storage:       s,
		listenAddress: listenAddress,
		e:             e,
	}

	e.GET("/health", h.GetHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/files", h.PostFile)
	e.GET("/files/:ref", h.GetFile)
	e.DELETE("/files/:id", h.DeleteFile)

	e.POST("/locks/:name", h.PostLock)
	e.DELETE("/locks/:name", h.DeleteLock)

	e.GET("/cache/:key", h.GetCache)
	e.PUT("/cache/:key", h.PutCache)
	e.DELETE("/cache/:key", h.DeleteCache)

	return h
}

// ServeHTTP makes the routes usable without a listener.
func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.e.ServeHTTP(w, r)
}

func (h *HTTP) Init(_ context.Context) error {
	return nil
}

// Start serves until ctx is done. readyCh is closed once the listener is bound.
func (h *HTTP) Start(ctx context.Context, readyCh chan<- struct{}) error {
	listener, err := net.Listen("tcp", h.listenAddress)
	if err != nil {
		return errors.NewServiceError("[HTTP] failed to listen on %s", h.listenAddress, err)
	}

	h.e.Listener = listener

	h.logger.Infof("[HTTP] listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()

		h.logger.Infof("[HTTP] shutting down")

		if err := h.e.Shutdown(context.Background()); err != nil {
			h.logger.Errorf("[HTTP] shutdown error: %v", err)
		}
	}()

	close(readyCh)

	if err = h.e.Start(h.listenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.NewServiceError("[HTTP] failed to serve on %s", h.listenAddress, err)
	}

	return nil
}

func (h *HTTP) Stop(ctx context.Context) error {
	return h.e.Shutdown(ctx)
}

// Addr returns the bound address once Start is listening.
func (h *HTTP) Addr() net.Addr {
	if h.e.Listener == nil {
		return nil
	}

	return h.e.Listener.Addr()
}

func (h *HTTP) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	return h.storage.Health(ctx, checkLiveness)
}

func (h *HTTP) GetHealth(c echo.Context) error {
	status, msg, err := h.storage.Health(c.Request().Context(), true)
	if err != nil {
		h.logger.Warnf("[HTTP][Health] %v", err)
	}

	return c.JSONBlob(status, []byte(msg))
}

// jsonSerializer encodes responses with jsoniter.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}

	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}

	return nil
}
