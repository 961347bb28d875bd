package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

const serviceName = "voyagedesk-api"

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores. Nil fields are skipped.
type ReadyProbe struct {
	DB    Pinger
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			errs = append(errs, errors.New("database: "+err.Error()))
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			errs = append(errs, errors.New("cache: "+err.Error()))
		}
	}
	return errors.Join(errs...)
}

// Options tunes the HTTP surface. Zero values fall back to defaults.
type Options struct {
	Version        string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address
	// is always the client.
	TrustedProxies []string
}

func (o Options) withDefaults() Options {
	if o.RateLimitRPS <= 0 {
		o.RateLimitRPS = 20
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 40
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	return o
}

// API is the HTTP layer over the authorization model and the directory.
type API struct {
	router    *mux.Router
	model     *auth.Model
	identity  *auth.Service
	directory *auth.DirectoryService
	ready     ReadyProbe
	opts      Options
	ips       ClientIPs
}

func New(model *auth.Model, identity *auth.Service, directory *auth.DirectoryService, rp ReadyProbe, opts Options) (*API, error) {
	if model == nil {
		return nil, errors.New("httpapi: model is required")
	}
	if identity == nil {
		return nil, errors.New("httpapi: identity service is required")
	}
	if directory == nil {
		return nil, errors.New("httpapi: directory is required")
	}
	ips, err := NewClientIPs(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	a := &API{
		router:    mux.NewRouter(),
		model:     model,
		identity:  identity,
		directory: directory,
		ready:     rp,
		opts:      opts.withDefaults(),
		ips:       ips,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/auth/login", a.Login).Methods(http.MethodPost)
	r.HandleFunc("/v1/me/access", a.MyAccess).Methods(http.MethodGet)
	r.HandleFunc("/v1/authorize", a.Authorize).Methods(http.MethodPost)

	r.HandleFunc("/v1/agencies", a.ListAgencies).Methods(http.MethodGet)
	r.HandleFunc("/v1/agencies", a.CreateAgency).Methods(http.MethodPost)
	r.HandleFunc("/v1/agencies/{id}", a.GetAgency).Methods(http.MethodGet)
	r.HandleFunc("/v1/agencies/{id}/status", a.SetAgencyStatus).Methods(http.MethodPut)
	r.HandleFunc("/v1/agencies/{id}/modules", a.SetAgencyModules).Methods(http.MethodPut)
	r.HandleFunc("/v1/agencies/{id}/users", a.ListUsers).Methods(http.MethodGet)
	r.HandleFunc("/v1/agencies/{id}/users", a.CreateUser).Methods(http.MethodPost)

	r.HandleFunc("/v1/users/{id}/status", a.SetUserStatus).Methods(http.MethodPut)
	r.HandleFunc("/v1/users/{id}/permissions", a.SetUserPermissions).Methods(http.MethodPut)
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.router)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitRPS, a.ips)
	h = CORS(h, a.opts.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.ips)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
