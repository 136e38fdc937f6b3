package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"mentorae-gateway/internal/config"
	"mentorae-gateway/internal/middleware"
	"mentorae-gateway/internal/model"
	"mentorae-gateway/internal/service"
)

// ProxyHandler forwards everything under the proxy prefix to the upstream.
type ProxyHandler struct {
	service *service.ProxyService
	prefix  string
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		prefix:  cfg.Server.ProxyPrefix,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle answers preflight requests locally and relays everything else to
// the upstream, streaming the response back unchanged apart from CORS and
// hop-by-hop headers.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		middleware.ApplyCORS(c.Response().Header())
		return c.NoContent(http.StatusNoContent)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read request body")
	}

	fr := &model.ForwardRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Segments: service.SplitSegments(strings.TrimPrefix(req.URL.EscapedPath(), h.prefix)),
		RawQuery: req.URL.RawQuery,
		Host:     req.Host,
		Header:   req.Header,
		Body:     body,
	}

	resp, err := h.service.Forward(fr)
	if err != nil {
		return h.badGateway(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	middleware.StripHopByHop(dst)
	middleware.ApplyCORS(dst)

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire, so a failed copy can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) badGateway(c echo.Context, err error) error {
	var upstream string
	var ue *service.UpstreamError
	if errors.As(err, &ue) {
		upstream = ue.URL
	}

	h.logger.Error("upstream unreachable",
		"err", err,
		"path", c.Request().URL.Path,
		"upstream", upstream,
	)

	middleware.ApplyCORS(c.Response().Header())
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error":    "Bad Gateway",
		"detail":   failureDetail(err),
		"upstream": upstream,
	})
}

// failureDetail reports the transport cause without the method and URL that
// url.Error prepends, since the URL is returned separately.
func failureDetail(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
