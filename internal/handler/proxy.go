package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlas-platform/edge-gateway/internal/httperr"
	"github.com/atlas-platform/edge-gateway/internal/middleware"
	"github.com/atlas-platform/edge-gateway/internal/route"
)

// Headers forwarded to backend services carrying the request's resolved
// tenant and principal context.
const (
	HeaderTenantID   = "X-Tenant-Id"
	HeaderTenantSlug = "X-Tenant-Slug"
	HeaderUserID     = "X-User-Id"
	HeaderUserRoles  = "X-User-Roles"
)

// ProxyHandler dispatches requests to the backend target resolved from the
// route table. Reverse proxies are built lazily per target base URL and
// reused across requests.
type ProxyHandler struct {
	table   *route.Table
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	proxies map[string]*httputil.ReverseProxy
}

// NewProxyHandler creates a proxy handler over the given route table.
func NewProxyHandler(table *route.Table, timeout time.Duration, logger *slog.Logger) *ProxyHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProxyHandler{
		table:   table,
		timeout: timeout,
		logger:  logger,
		proxies: make(map[string]*httputil.ReverseProxy),
	}
}

// Handle resolves the route for the (slug-stripped) path and forwards the
// request to its backend target with tenant and principal context headers.
func (h *ProxyHandler) Handle(c *gin.Context) {
	path := c.Request.URL.Path

	def, ok := h.table.FindByPath(path)
	if !ok {
		httperr.RouteNotFound(c, "No route matches path")
		return
	}

	proxy, err := h.proxyFor(def.TargetBaseURL)
	if err != nil {
		h.logger.Error("invalid route target",
			slog.String("route_id", def.ID),
			slog.String("target", def.TargetBaseURL),
			slog.String("error", err.Error()),
		)
		httperr.BadGateway(c, "Backend target unavailable")
		return
	}

	h.forwardContextHeaders(c)

	h.logger.Debug("proxying request",
		slog.String("path", path),
		slog.String("route_id", def.ID),
		slog.String("service", def.TargetServiceName),
	)

	proxy.ServeHTTP(c.Writer, c.Request)
}

// forwardContextHeaders attaches the resolved tenant/principal context and
// correlation headers for the backend.
func (h *ProxyHandler) forwardContextHeaders(c *gin.Context) {
	if tenantID, ok := middleware.GetTenantID(c); ok {
		c.Request.Header.Set(HeaderTenantID, tenantID)
	}
	if slug, ok := middleware.GetTenantSlug(c); ok {
		c.Request.Header.Set(HeaderTenantSlug, slug)
	}
	if principal, ok := middleware.GetPrincipal(c); ok {
		c.Request.Header.Set(HeaderUserID, principal.Subject)
		if len(principal.Roles) > 0 {
			c.Request.Header.Set(HeaderUserRoles, strings.Join(principal.Roles, ","))
		}
	}
	if cid := c.GetString(middleware.CorrelationIDKey); cid != "" {
		c.Request.Header.Set(middleware.HeaderCorrelationID, cid)
	}
	if tid := c.GetString(middleware.TraceIDKey); tid != "" {
		c.Request.Header.Set(middleware.HeaderTraceID, tid)
	}
}

func (h *ProxyHandler) proxyFor(baseURL string) (*httputil.ReverseProxy, error) {
	h.mu.RLock()
	proxy, ok := h.proxies[baseURL]
	h.mu.RUnlock()
	if ok {
		return proxy, nil
	}

	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if proxy, ok := h.proxies[baseURL]; ok {
		return proxy, nil
	}

	proxy = httputil.NewSingleHostReverseProxy(target)
	// The default transport keeps its dial and TLS handshake timeouts.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = h.timeout
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.logger.Warn("backend unreachable",
			slog.String("target", baseURL),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(httperr.Body{Error: httperr.Detail{
			Status:  http.StatusBadGateway,
			Code:    httperr.CodeUpstreamUnavailable,
			Message: "Backend service is unreachable",
			Path:    r.URL.Path,
		}})
	}

	h.proxies[baseURL] = proxy
	return proxy, nil
}
