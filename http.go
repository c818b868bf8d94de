package oidcroles

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// DefaultSessionCookieName is the cookie holding the token after login.
const DefaultSessionCookieName = "oidcroles_session"

// HTTPMiddleware is the middleware for HTTP handler.
type HTTPMiddleware func(http.Handler) http.Handler

// HTTPParams specifies the OIDC authentication settings for HTTP interceptor.
type HTTPParams struct {
	Params

	// HTTPHeaderName specifies the header name for retrieving the token.
	// Defaults to `Authorization`.
	HTTPHeaderName string

	// HTTPHeaderPrefix specifies the prefix for the header name.
	// Defaults to `Bearer`.
	HTTPHeaderValuePrefix string

	// SessionCookieName specifies the cookie read when the header is absent.
	// Defaults to `oidcroles_session`.
	SessionCookieName string
}

func (p HTTPParams) defaults() HTTPParams {
	rv := p

	rv.Params = p.Params.defaults()
	if rv.HTTPHeaderName == "" {
		rv.HTTPHeaderName = "Authorization"
	}
	if rv.HTTPHeaderValuePrefix == "" {
		rv.HTTPHeaderValuePrefix = "Bearer"
	}
	if rv.SessionCookieName == "" {
		rv.SessionCookieName = DefaultSessionCookieName
	}

	return rv
}

// InterceptHTTP creates a HTTP middle for authenticating OIDC JWT token
// from the request.
func InterceptHTTP(params HTTPParams) HTTPMiddleware {
	params = params.defaults()

	loader, err := CreatePrincipalLoader(params.Params)
	if err != nil {
		params.Logger.Error("create principal loader", "error", err)
		return InterceptHTTPWithLoader(params, func(_ context.Context, _ string) ClaimsPrincipal {
			return unauthenticatedClaimsPrincipalWithErr(err)
		})
	}

	return InterceptHTTPWithLoader(params, loader)
}

// InterceptHTTPWithLoader creates a HTTP middleware resolving the request
// token with the given loader. Header tokens go through the loader. The
// session cookie is verified with Params.SessionKey and ignored without one.
func InterceptHTTPWithLoader(params HTTPParams, loader PrincipalLoaderFunc) HTTPMiddleware {
	params = params.defaults()

	loadSession := func(string) ClaimsPrincipal {
		return unauthenticatedClaimsPrincipal()
	}
	if len(params.SessionKey) > 0 {
		sessions, err := newSessionCodec(params.SessionKey)
		if err != nil {
			params.Logger.Error("create session codec", "error", err)
			loadSession = func(string) ClaimsPrincipal {
				return unauthenticatedClaimsPrincipalWithErr(err)
			}
		} else {
			loadSession = sessions.load
		}
	}

	loadTokenFromHeader := func(req *http.Request) string {
		v := strings.TrimSpace(req.Header.Get(params.HTTPHeaderName))
		v = strings.TrimPrefix(v, params.HTTPHeaderValuePrefix)
		return strings.TrimSpace(v)
	}

	principalFromRequest := func(req *http.Request) ClaimsPrincipal {
		if token := loadTokenFromHeader(req); token != "" {
			return loader(req.Context(), token)
		}
		c, err := req.Cookie(params.SessionCookieName)
		if err != nil || c.Value == "" {
			return unauthenticatedClaimsPrincipal()
		}
		return loadSession(c.Value)
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := principalFromRequest(r)
			r = r.WithContext(ContextWithPrincipal(r.Context(), principal))
			h.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromHTTPRequest retrieves the ClaimsPrincipal from the request.
// It returns unauthenticated principal if the request has not set.
func PrincipalFromHTTPRequest(req *http.Request) ClaimsPrincipal {
	return PrincipalFromContext(req.Context())
}

// AccessParams specifies how rejected requests are answered.
type AccessParams struct {
	// LoginPath is where unauthenticated browser requests are redirected.
	// Requests carrying the token header get 401 instead.
	// When empty every unauthenticated request gets 401.
	LoginPath string

	// HTTPHeaderName is the header carrying bearer tokens, matching
	// HTTPParams.HTTPHeaderName. Defaults to `Authorization`.
	HTTPHeaderName string

	// PrincipalFromRequest defaults to PrincipalFromHTTPRequest.
	PrincipalFromRequest func(*http.Request) ClaimsPrincipal
}

func (p AccessParams) defaults() AccessParams {
	rv := p

	if rv.PrincipalFromRequest == nil {
		rv.PrincipalFromRequest = PrincipalFromHTTPRequest
	}
	if rv.HTTPHeaderName == "" {
		rv.HTTPHeaderName = "Authorization"
	}

	return rv
}

// RequireAuthenticated rejects requests without an authenticated principal.
func RequireAuthenticated(params AccessParams) HTTPMiddleware {
	return RequireRole(params, "")
}

// RequireRole rejects requests whose principal is unauthenticated or lacks
// the role. An empty role only requires authentication.
func RequireRole(params AccessParams, role string) HTTPMiddleware {
	params = params.defaults()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := params.PrincipalFromRequest(r)
			if err := principal.AuthenticateErr(); err != nil {
				unauthenticated(w, r, params, err)
				return
			}
			if role != "" && !principal.HasRole(role) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request, params AccessParams, err error) {
	if params.LoginPath == "" || r.Header.Get(params.HTTPHeaderName) != "" || errors.Is(err, ErrClaimShape) {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	target := params.LoginPath + "?" + url.Values{"return_to": {r.URL.RequestURI()}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
