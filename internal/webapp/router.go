// Package webapp is an example application exercising the login pipeline
// and the realm role mapping end to end.
package webapp

import (
	"encoding/json"
	"net/http"

	"github.com/b4fun/oidcroles"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

// AdminRole is required by the admin endpoint.
const AdminRole = "ADMIN"

// LoginHandlers serves the login flow, see oidcroles.Login.
type LoginHandlers interface {
	LoginHandler(w http.ResponseWriter, r *http.Request)
	CallbackHandler(w http.ResponseWriter, r *http.Request)
	LogoutHandler(w http.ResponseWriter, r *http.Request)
}

// Params specifies the router dependencies.
type Params struct {
	// Login serves /login, /login/callback and /logout. Optional.
	Login LoginHandlers

	// Intercept resolves the request principal. Required.
	Intercept oidcroles.HTTPMiddleware

	// PrincipalFromRequest defaults to oidcroles.PrincipalFromHTTPRequest.
	PrincipalFromRequest func(*http.Request) oidcroles.ClaimsPrincipal

	// Logger defaults to a null logger.
	Logger hclog.Logger
}

func (p Params) defaults() Params {
	rv := p

	if rv.PrincipalFromRequest == nil {
		rv.PrincipalFromRequest = oidcroles.PrincipalFromHTTPRequest
	}
	if rv.Logger == nil {
		rv.Logger = hclog.NewNullLogger()
	}

	return rv
}

// NewRouter creates the application router. Every route other than the
// login flow requires an authenticated principal.
func NewRouter(params Params) *mux.Router {
	params = params.defaults()
	logger := params.Logger.Named("webapp")

	r := mux.NewRouter()
	r.Use(accessLog(logger))

	access := oidcroles.AccessParams{
		PrincipalFromRequest: params.PrincipalFromRequest,
	}
	if params.Login != nil {
		access.LoginPath = "/login"

		r.HandleFunc("/login", params.Login.LoginHandler).Methods(http.MethodGet)
		r.HandleFunc("/login/callback", params.Login.CallbackHandler).Methods(http.MethodGet)
		r.HandleFunc("/logout", params.Login.LogoutHandler).Methods(http.MethodGet, http.MethodPost)
	}

	h := &handlers{
		logger:               logger,
		principalFromRequest: params.PrincipalFromRequest,
	}

	authenticated := r.NewRoute().Subrouter()
	authenticated.Use(mux.MiddlewareFunc(params.Intercept))
	authenticated.Use(mux.MiddlewareFunc(oidcroles.RequireAuthenticated(access)))
	authenticated.HandleFunc("/", h.index).Methods(http.MethodGet)
	authenticated.HandleFunc("/user/oidc-principal", h.oidcPrincipal).Methods(http.MethodGet)

	admin := authenticated.PathPrefix("/user/admin").Subrouter()
	admin.Use(mux.MiddlewareFunc(oidcroles.RequireRole(access, AdminRole)))
	admin.HandleFunc("", h.admin).Methods(http.MethodGet)

	return r
}

type handlers struct {
	logger               hclog.Logger
	principalFromRequest func(*http.Request) oidcroles.ClaimsPrincipal
}

type principalResponse struct {
	Name        string              `json:"name"`
	Authorities []string            `json:"authorities"`
	Claims      oidcroles.MapClaims `json:"claims"`
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	principal := h.principalFromRequest(r)
	h.writeJSON(w, map[string]string{"name": principal.Name()})
}

func (h *handlers) oidcPrincipal(w http.ResponseWriter, r *http.Request) {
	principal := h.principalFromRequest(r)
	h.logger.Debug("principal", "name", principal.Name(), "authorities", principal.Authorities().Names())

	h.writeJSON(w, principalResponse{
		Name:        principal.Name(),
		Authorities: principal.Authorities().Names(),
		Claims:      principal.Claims(),
	})
}

func (h *handlers) admin(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"greeting": "Hello World!"})
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response", "error", err)
	}
}
