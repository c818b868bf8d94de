package oidcroles

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidState = errors.New("invalid login state")
	ErrInvalidNonce = errors.New("invalid nonce")
	ErrLoginFailed  = errors.New("login failed")
)

const (
	// DefaultStateCookieName is the cookie holding state and nonce during login.
	DefaultStateCookieName = "oidcroles_login"

	// ScopeAuthorityPrefix is prepended to every granted scope.
	ScopeAuthorityPrefix = "SCOPE_"
)

// LoginParams specifies the authorization code login settings.
type LoginParams struct {
	Params

	// ClientSecret specifies the client secret of the OIDC client.
	ClientSecret string

	// RedirectURL specifies the callback URL registered at the provider. Required.
	RedirectURL string

	// Scopes requested at login. Defaults to `openid`, `profile` and `email`.
	Scopes []string

	// FetchUserInfo merges the userinfo claims into the OIDC authority.
	FetchUserInfo bool

	// PostLoginURL is the redirect target after login when the login request
	// had no `return_to`. Defaults to `/`.
	PostLoginURL string

	// SessionCookieName defaults to `oidcroles_session`.
	SessionCookieName string

	// StateCookieName defaults to `oidcroles_login`.
	StateCookieName string

	// StateTTL bounds the time between login and callback. Defaults to 5 minutes.
	StateTTL time.Duration

	// SessionTTL bounds the session lifetime. The session never outlives the
	// exchanged token. Defaults to 1 hour.
	SessionTTL time.Duration

	// SecureCookies sets the Secure attribute on the cookies.
	SecureCookies bool
}

func (p LoginParams) defaults() LoginParams {
	rv := p

	rv.Params = p.Params.defaults()
	if len(rv.Scopes) == 0 {
		rv.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if rv.PostLoginURL == "" {
		rv.PostLoginURL = "/"
	}
	if rv.SessionCookieName == "" {
		rv.SessionCookieName = DefaultSessionCookieName
	}
	if rv.StateCookieName == "" {
		rv.StateCookieName = DefaultStateCookieName
	}
	if rv.StateTTL == 0 {
		rv.StateTTL = 5 * time.Minute
	}
	if rv.SessionTTL == 0 {
		rv.SessionTTL = time.Hour
	}

	return rv
}

// Login runs the authorization code flow and hands the resulting
// authorities to the mapper before the session is established.
type Login struct {
	params       LoginParams
	logger       hclog.Logger
	httpClient   *http.Client
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
	mapper       AuthoritiesMapper
	sessions     *sessionCodec
}

// NewLogin discovers the provider and creates the Login.
func NewLogin(ctx context.Context, params LoginParams) (*Login, error) {
	params = params.defaults()

	if params.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if params.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	sessions, err := newSessionCodec(params.SessionKey)
	if err != nil {
		return nil, err
	}

	httpClient, err := newHTTPClient(params.CAFile)
	if err != nil {
		return nil, err
	}

	mapper, err := params.mapper()
	if err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), params.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", params.IssuerURL, err)
	}

	return &Login{
		params:     params,
		logger:     params.Logger.Named("login"),
		httpClient: httpClient,
		provider:   provider,
		oauth2Config: &oauth2.Config{
			ClientID:     params.ClientID,
			ClientSecret: params.ClientSecret,
			RedirectURL:  params.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       params.Scopes,
		},
		mapper:   mapper,
		sessions: sessions,
	}, nil
}

type loginState struct {
	state    string
	nonce    string
	returnTo string
}

func (s loginState) encode() string {
	return url.Values{
		"state":     {s.state},
		"nonce":     {s.nonce},
		"return_to": {s.returnTo},
	}.Encode()
}

func decodeLoginState(v string) (loginState, error) {
	values, err := url.ParseQuery(v)
	if err != nil {
		return loginState{}, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	rv := loginState{
		state:    values.Get("state"),
		nonce:    values.Get("nonce"),
		returnTo: values.Get("return_to"),
	}
	if rv.state == "" || rv.nonce == "" {
		return loginState{}, ErrInvalidState
	}
	return rv, nil
}

// localPath accepts only paths on this host.
func localPath(v string) string {
	if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") || strings.HasPrefix(v, "/\\") {
		return ""
	}
	return v
}

// LoginHandler redirects to the provider's authorization endpoint.
func (l *Login) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := uuid.GenerateUUID()
	if err != nil {
		l.fail(w, http.StatusInternalServerError, fmt.Errorf("generate state: %w", err))
		return
	}
	nonce, err := uuid.GenerateUUID()
	if err != nil {
		l.fail(w, http.StatusInternalServerError, fmt.Errorf("generate nonce: %w", err))
		return
	}

	s := loginState{
		state:    state,
		nonce:    nonce,
		returnTo: localPath(r.URL.Query().Get("return_to")),
	}
	http.SetCookie(w, l.cookie(l.params.StateCookieName, s.encode(), l.params.StateTTL))

	l.logger.Debug("redirecting to provider", "state", state)
	http.Redirect(w, r, l.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce)), http.StatusFound)
}

// CallbackHandler completes the login. Any failure, including a mapping
// failure, answers without establishing a session.
func (l *Login) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	c, err := r.Cookie(l.params.StateCookieName)
	if err != nil {
		l.fail(w, http.StatusBadRequest, fmt.Errorf("%w: no state cookie", ErrInvalidState))
		return
	}
	http.SetCookie(w, l.cookie(l.params.StateCookieName, "", -1))

	s, err := decodeLoginState(c.Value)
	if err != nil {
		l.fail(w, http.StatusBadRequest, err)
		return
	}
	if query.Get("state") != s.state {
		l.fail(w, http.StatusBadRequest, fmt.Errorf("%w: state mismatch", ErrInvalidState))
		return
	}

	if e := query.Get("error"); e != "" {
		l.fail(w, http.StatusUnauthorized, fmt.Errorf(
			"%w: provider error %s: %s", ErrLoginFailed, e, query.Get("error_description"),
		))
		return
	}

	code := query.Get("code")
	if code == "" {
		l.fail(w, http.StatusBadRequest, fmt.Errorf("%w: missing code", ErrLoginFailed))
		return
	}

	ctx := oidc.ClientContext(r.Context(), l.httpClient)
	token, err := l.oauth2Config.Exchange(ctx, code)
	if err != nil {
		l.fail(w, http.StatusUnauthorized, fmt.Errorf("%w: exchange code: %s", ErrLoginFailed, err))
		return
	}

	claims, authorities, err := l.authorities(ctx, token, s.nonce)
	if err != nil {
		l.fail(w, http.StatusUnauthorized, fmt.Errorf("%w: %s", ErrLoginFailed, err))
		return
	}

	name, err := principalName(l.params.Params, claims)
	if err != nil {
		l.fail(w, http.StatusUnauthorized, fmt.Errorf("%w: %s", ErrLoginFailed, err))
		return
	}

	mapped, err := l.mapper.MapAuthorities(authorities)
	if err != nil {
		l.fail(w, http.StatusUnauthorized, fmt.Errorf("%w: map authorities: %s", ErrLoginFailed, err))
		return
	}
	l.logger.Debug("login succeeded", "authorities", mapped.Names())

	expiresAt := time.Now().Add(l.params.SessionTTL)
	if !token.Expiry.IsZero() && token.Expiry.Before(expiresAt) {
		expiresAt = token.Expiry
	}
	session, err := l.sessions.issue(name, claims, mapped, expiresAt)
	if err != nil {
		l.fail(w, http.StatusInternalServerError, fmt.Errorf("issue session: %w", err))
		return
	}
	http.SetCookie(w, l.cookie(l.params.SessionCookieName, session, time.Until(expiresAt)))

	target := s.returnTo
	if target == "" {
		target = l.params.PostLoginURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// LogoutHandler drops the session cookie.
func (l *Login) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, l.cookie(l.params.SessionCookieName, "", -1))
	http.Redirect(w, r, "/", http.StatusFound)
}

// authorities builds the authorities of the exchanged token and returns the
// claims describing the user.
func (l *Login) authorities(
	ctx context.Context,
	token *oauth2.Token,
	nonce string,
) (MapClaims, []GrantedAuthority, error) {
	var rv []GrantedAuthority
	var userClaims MapClaims

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken != "" {
		verifier := l.provider.Verifier(&oidc.Config{ClientID: l.params.ClientID})
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, nil, fmt.Errorf("verify id token: %w", err)
		}
		if idToken.Nonce != nonce {
			return nil, nil, ErrInvalidNonce
		}

		var claims MapClaims
		if err := idToken.Claims(&claims); err != nil {
			return nil, nil, fmt.Errorf("decode id token claims: %w", err)
		}

		var userInfo MapClaims
		if l.params.FetchUserInfo {
			userInfo, err = fetchUserInfo(ctx, l.provider, l.oauth2Config.TokenSource(ctx, token))
			if err != nil {
				return nil, nil, err
			}
		}

		l.logger.Debug("oidc login", "subject", idToken.Subject)
		oidcAuthority := NewOIDCUserAuthority(claims, userInfo)
		rv = append(rv, oidcAuthority)
		userClaims = oidcAuthority.Claims()
	} else {
		attributes, err := fetchUserInfo(ctx, l.provider, l.oauth2Config.TokenSource(ctx, token))
		if err != nil {
			return nil, nil, err
		}

		l.logger.Debug("oauth2 login without id token")
		oauth2Authority := NewOAuth2UserAuthority(attributes)
		rv = append(rv, oauth2Authority)
		userClaims = oauth2Authority.Attributes()
	}

	for _, scope := range l.grantedScopes(token) {
		rv = append(rv, SimpleAuthority(ScopeAuthorityPrefix+scope))
	}

	return userClaims, rv, nil
}

// grantedScopes falls back to the requested scopes when the token response
// does not list them.
func (l *Login) grantedScopes(token *oauth2.Token) []string {
	if scope, ok := token.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		return strings.Fields(scope)
	}
	return l.params.Scopes
}

func (l *Login) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   l.params.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	switch {
	case maxAge < 0:
		c.MaxAge = -1
	case maxAge > 0:
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}

// fail answers with the status only; the cause goes to the debug log.
func (l *Login) fail(w http.ResponseWriter, status int, err error) {
	l.logger.Debug("login failed", "status", status, "error", err)
	http.Error(w, http.StatusText(status), status)
}
