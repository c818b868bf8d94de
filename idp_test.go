package oidcroles_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

// keyIDFromPublicKey derives a key ID non-reversibly from a public key.
//
// The Key ID is field on a given on JWTs and JWKs that help relying parties
// pick the correct key for verification when the identity party advertises
// multiple keys.
func keyIDFromPublicKey(publicKey *rsa.PublicKey) (string, error) {
	publicKeyDERBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to serialize public key to DER format: %w", err)
	}

	hasher := crypto.SHA256.New()
	_, _ = hasher.Write(publicKeyDERBytes)
	publicKeyDERHash := hasher.Sum(nil)

	keyID := base64.RawURLEncoding.EncodeToString(publicKeyDERHash)

	return keyID, nil
}

func jwksFromPrivateKey(t *testing.T, privateKey *rsa.PrivateKey) string {
	publicKey := &privateKey.PublicKey
	keyID, err := keyIDFromPublicKey(publicKey)
	require.NoError(t, err)

	jwks := new(jose.JSONWebKeySet)
	jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
		Algorithm: string(jose.RS256),
		Key:       publicKey,
		KeyID:     keyID,
		Use:       "sig",
	})

	b, err := json.MarshalIndent(jwks, "", "  ")
	require.NoError(t, err)

	return string(b)
}

// idProviderT is an in-process identity provider serving discovery, JWKS,
// token and userinfo endpoints.
type idProviderT struct {
	JWKS                   string
	OpenIDMetadataTemplate string

	mu sync.Mutex
	// userInfo maps access tokens to the userinfo response.
	userInfo map[string]map[string]interface{}
	// tokenResponse answers the token endpoint for the given code.
	tokenResponse func(code string) (map[string]interface{}, bool)

	privateKey *rsa.PrivateKey
	*httptest.Server
}

func newIDProvider(t *testing.T) *idProviderT {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	rv := &idProviderT{
		privateKey: privateKey,
		JWKS:       jwksFromPrivateKey(t, privateKey),
		userInfo:   map[string]map[string]interface{}{},
		OpenIDMetadataTemplate: `
{
	"issuer": "ISSUER_URL",
	"authorization_endpoint": "ISSUER_URLauthorize",
	"token_endpoint": "ISSUER_URLtoken",
	"userinfo_endpoint": "ISSUER_URLuserinfo",
	"jwks_uri": "ISSUER_URLopenid/v1/jwks",
	"response_types_supported": ["code", "id_token"],
	"subject_types_supported": ["public"],
	"id_token_signing_alg_values_supported": ["RS256"]
}
	`,
	}

	rv.Server = httptest.NewUnstartedServer(rv.mux(t))

	return rv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (idp *idProviderT) mux(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(
		"/openid/v1/jwks",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Log("requesting /openid/v1/jwks")

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(idp.JWKS))
		}),
	)
	mux.Handle(
		"/.well-known/openid-configuration",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Log("requesting /.well-known/openid-configuration")

			w.Header().Set("Content-Type", "application/json")
			b := strings.ReplaceAll(
				idp.OpenIDMetadataTemplate,
				"ISSUER_URL", idp.IssuerURL(),
			)
			w.Write([]byte(b))
		}),
	)
	mux.Handle(
		"/token",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Log("requesting /token")

			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			idp.mu.Lock()
			tokenResponse := idp.tokenResponse
			idp.mu.Unlock()

			if tokenResponse == nil {
				w.WriteHeader(http.StatusBadRequest)
				writeJSON(w, map[string]string{"error": "invalid_grant"})
				return
			}
			resp, ok := tokenResponse(r.PostForm.Get("code"))
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				writeJSON(w, map[string]string{"error": "invalid_grant"})
				return
			}
			writeJSON(w, resp)
		}),
	)
	mux.Handle(
		"/userinfo",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Log("requesting /userinfo")

			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

			idp.mu.Lock()
			attributes, ok := idp.userInfo[token]
			idp.mu.Unlock()

			if !ok {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			writeJSON(w, attributes)
		}),
	)

	return mux
}

func (idp *idProviderT) IssuerURL() string {
	return idp.URL + "/"
}

func (idp *idProviderT) CAFile(t *testing.T) string {
	cert := idp.Certificate()
	require.NotNil(t, cert)

	path := filepath.Join(t.TempDir(), "ca.pem")
	b := &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	}
	err := os.WriteFile(path, pem.EncodeToMemory(b), 0644)
	require.NoError(t, err)

	return path
}

func (idp *idProviderT) JWT(t *testing.T, claims jwt.Claims) string {
	token := jwt.NewWithClaims(
		jwt.SigningMethodRS256,
		claims,
	)
	tokenSigned, err := token.SignedString(idp.privateKey)
	require.NoError(t, err)

	return tokenSigned
}

// SetUserInfo registers the userinfo response for the access token.
func (idp *idProviderT) SetUserInfo(accessToken string, attributes map[string]interface{}) {
	idp.mu.Lock()
	defer idp.mu.Unlock()

	idp.userInfo[accessToken] = attributes
}

// SetTokenResponse sets the token endpoint answer.
func (idp *idProviderT) SetTokenResponse(f func(code string) (map[string]interface{}, bool)) {
	idp.mu.Lock()
	defer idp.mu.Unlock()

	idp.tokenResponse = f
}

func convertWithDefault[T any, U any](
	computeDefaultValue func() T,
	convert func(T) U,
) func(...func(*T)) U {
	return func(mutateFuncs ...func(*T)) U {
		v := computeDefaultValue()

		for _, m := range mutateFuncs {
			m(&v)
		}

		return convert(v)
	}
}

func withDefault[T any](computeDefaultValue func() T) func(...func(*T)) T {
	return convertWithDefault(computeDefaultValue, func(t T) T { return t })
}

type claimsT struct {
	jwt.RegisteredClaims

	RealmAccess interface{} `json:"realm_access,omitempty"`
	Nonce       string      `json:"nonce,omitempty"`
	UID         string      `json:"uid,omitempty"`
	ClaimFoo    string      `json:"foo,omitempty"`
}

func realmRoles(roles ...string) map[string]interface{} {
	return map[string]interface{}{"roles": roles}
}
