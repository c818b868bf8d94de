package oidcroles

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

var (
	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrMissingClaim    = fmt.Errorf("missing claim")
)

type unauthenticatedClaimsPrincipalT struct {
	err error
}

var _ ClaimsPrincipal = (*unauthenticatedClaimsPrincipalT)(nil)

func (cp *unauthenticatedClaimsPrincipalT) Name() string {
	return "unauthenticated"
}

func (cp *unauthenticatedClaimsPrincipalT) HasRole(role string) bool {
	return false
}

func (cp *unauthenticatedClaimsPrincipalT) HasAuthority(authority string) bool {
	return false
}

func (cp *unauthenticatedClaimsPrincipalT) Authorities() *AuthoritySet {
	return NewAuthoritySet()
}

func (cp *unauthenticatedClaimsPrincipalT) Claims() MapClaims {
	return MapClaims{}
}

func (cp *unauthenticatedClaimsPrincipalT) BindClaims(v interface{}) error {
	return fmt.Errorf("no claims")
}

func (cp *unauthenticatedClaimsPrincipalT) AuthenticateErr() error {
	if cp.err != nil {
		return cp.err
	}
	return ErrUnauthenticated
}

func unauthenticatedClaimsPrincipalWithErr(err error) ClaimsPrincipal {
	return &unauthenticatedClaimsPrincipalT{
		err: err,
	}
}

func unauthenticatedClaimsPrincipal() ClaimsPrincipal {
	return unauthenticatedClaimsPrincipalWithErr(ErrUnauthenticated)
}

// PrincipalLoaderFunc loads a ClaimsPrincipal from given context and token.
type PrincipalLoaderFunc func(ctx context.Context, token string) ClaimsPrincipal

// CreatePrincipalLoader creates the PrincipalLoaderFunc from the given Params.
func CreatePrincipalLoader(params Params) (PrincipalLoaderFunc, error) {
	params = params.defaults()

	httpClient, err := newHTTPClient(params.CAFile)
	if err != nil {
		return nil, err
	}

	mapper, err := params.mapper()
	if err != nil {
		return nil, err
	}

	logger := params.Logger.Named("principal")
	providers := &providerCache{issuerURL: params.IssuerURL, httpClient: httpClient}

	loader := func(ctx context.Context, token string) ClaimsPrincipal {
		if token == "" {
			return unauthenticatedClaimsPrincipal()
		}

		ctx = oidc.ClientContext(ctx, httpClient)

		provider, err := providers.get(ctx)
		if err != nil {
			return unauthenticatedClaimsPrincipalWithErr(err)
		}

		verifier := provider.Verifier(&oidc.Config{
			ClientID: params.ClientID,
		})

		verifiedToken, verifyErr := verifier.Verify(ctx, token)
		if verifyErr == nil {
			var claims MapClaims
			if err := verifiedToken.Claims(&claims); err != nil {
				// failed to decode claims
				return unauthenticatedClaimsPrincipalWithErr(err)
			}
			return newClaimsPrincipal(params, mapper, claims, []GrantedAuthority{
				NewOIDCUserAuthority(claims, nil),
			})
		}

		if !params.UserInfoFallback {
			return unauthenticatedClaimsPrincipalWithErr(verifyErr)
		}

		logger.Debug("id token verification failed, trying userinfo", "error", verifyErr)
		attributes, err := fetchUserInfo(ctx, provider, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}))
		if err != nil {
			return unauthenticatedClaimsPrincipalWithErr(err)
		}
		return newClaimsPrincipal(params, mapper, attributes, []GrantedAuthority{
			NewOAuth2UserAuthority(attributes),
		})
	}

	return loader, nil
}

// providerCache discovers the provider on first use and keeps it once
// discovery succeeded.
type providerCache struct {
	issuerURL  string
	httpClient *http.Client

	mu       sync.Mutex
	provider *oidc.Provider
}

func (pc *providerCache) get(ctx context.Context) (*oidc.Provider, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.provider != nil {
		return pc.provider, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, pc.httpClient), pc.issuerURL)
	if err != nil {
		return nil, err
	}
	pc.provider = provider

	return provider, nil
}

func fetchUserInfo(ctx context.Context, provider *oidc.Provider, ts oauth2.TokenSource) (MapClaims, error) {
	userInfo, err := provider.UserInfo(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	var claims MapClaims
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return claims, nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()
	if caPath != "" {
		tlsConfig, err := tlsConfigWithCA(caPath)
		if err != nil {
			return nil, fmt.Errorf("create http client from CA %s: %w", caPath, err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{Transport: transport}, nil
}

func tlsConfigWithCA(caPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates found")
	}

	return &tls.Config{RootCAs: caCertPool}, nil
}

type claimsPrincipal struct {
	name            string
	authorities     *AuthoritySet
	claims          []byte
	authenticateErr error
}

var _ ClaimsPrincipal = (*claimsPrincipal)(nil)

func (cp *claimsPrincipal) Name() string {
	return cp.name
}

func (cp *claimsPrincipal) HasRole(role string) bool {
	if !strings.HasPrefix(role, DefaultRolePrefix) {
		role = DefaultRolePrefix + role
	}
	return cp.authorities.Contains(role)
}

func (cp *claimsPrincipal) HasAuthority(authority string) bool {
	return cp.authorities.Contains(authority)
}

func (cp *claimsPrincipal) Authorities() *AuthoritySet {
	return NewAuthoritySet(cp.authorities.Slice()...)
}

func (cp *claimsPrincipal) Claims() MapClaims {
	rv := make(MapClaims)
	_ = cp.BindClaims(&rv)
	return rv
}

func (cp *claimsPrincipal) BindClaims(v interface{}) error {
	return json.Unmarshal(cp.claims, v)
}

func (cp *claimsPrincipal) AuthenticateErr() error {
	return cp.authenticateErr
}

func getFromMapClaims[T any](mc MapClaims, name string) T {
	v, exists := mc[name]
	if !exists {
		var empty T
		return empty
	}
	vv, ok := v.(T)
	if !ok {
		var empty T
		return empty
	}
	return vv
}

// principalName returns the user name claim after checking the required
// claims.
func principalName(params Params, claims MapClaims) (string, error) {
	name := getFromMapClaims[string](claims, params.UserNameClaim)
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingClaim, params.UserNameClaim)
	}

	for requiredKey, requiredValue := range params.RequiredClaims {
		v, exists := claims[requiredKey]
		if !exists || v != requiredValue {
			return "", fmt.Errorf("%w: %s=%s", ErrMissingClaim, requiredKey, requiredValue)
		}
	}

	return name, nil
}

func newClaimsPrincipal(
	params Params,
	mapper AuthoritiesMapper,
	claims MapClaims,
	authorities []GrantedAuthority,
) ClaimsPrincipal {
	claimsEncoded, err := json.Marshal(claims)
	if err != nil {
		// failed to encode back
		return unauthenticatedClaimsPrincipalWithErr(err)
	}

	name, err := principalName(params, claims)
	if err != nil {
		return unauthenticatedClaimsPrincipalWithErr(err)
	}

	mapped, err := mapper.MapAuthorities(authorities)
	if err != nil {
		return unauthenticatedClaimsPrincipalWithErr(fmt.Errorf("map authorities: %w", err))
	}

	return &claimsPrincipal{
		name:        name,
		claims:      claimsEncoded,
		authorities: mapped,
	}
}
