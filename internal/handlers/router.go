package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareChain []func(http.Handler) http.Handler

func (c middlewareChain) apply(r chi.Router) {
	for _, mw := range c {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// routeGroup is one mounted prefix under the API base path. Groups without a
// registrar answer 501 so clients can tell a missing feature from a bad path.
type routeGroup struct {
	path       string
	registrar  RouteRegistrar
	middleware middlewareChain
}

const (
	groupMe       = "me"
	groupCart     = "cart"
	groupOrders   = "orders"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

var groupOrder = []string{groupMe, groupCart, groupOrders, groupWebhooks, groupInternal}

type routerConfig struct {
	basePath    string
	middlewares middlewareChain
	health      *HealthHandlers
	groups      map[string]*routeGroup
	extra       []RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

func newRouterConfig() routerConfig {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: middlewareChain{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, name := range groupOrder {
		cfg.groups[name] = &routeGroup{path: "/" + name}
	}
	return cfg
}

// NewRouter constructs the chi router with shared middleware and the storefront route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := newRouterConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.middlewares.apply(r)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			group := cfg.groups[name]
			api.Route(group.path, func(sub chi.Router) {
				group.middleware.apply(sub)
				if group.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				group.registrar(sub)
			})
		}
		for _, registrar := range cfg.extra {
			if registrar != nil {
				registrar(api)
			}
		}
	})

	return r
}

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[name].registrar = reg }
}

func withGroupMiddlewares(name string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.groups[name]
		group.middleware = append(group.middleware, mw...)
	}
}

// WithMiddlewares appends global middleware after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMeRoutes mounts the profile endpoints.
func WithMeRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupMe, reg) }

// WithCartRoutes mounts the cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupCart, reg) }

// WithOrderRoutes mounts the order history endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupOrders, reg) }

// WithWebhookRoutes mounts the gateway callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupWebhooks, reg) }

// WithWebhookMiddlewares wraps only the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalRoutes mounts the service-to-service endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupInternal, reg) }

// WithInternalMiddlewares wraps only the /internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

// WithAdditionalRoutes registers routes directly under the API prefix, for paths
// such as /checkout and /cart:merge that do not sit inside a group.
func WithAdditionalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.extra = append(cfg.extra, reg)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
