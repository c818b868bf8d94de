package oidcroles

import (
	"fmt"
	"reflect"
	"sort"
)

// AuthorityKind tags the variant of a GrantedAuthority.
type AuthorityKind int

const (
	// KindUnsupported is any GrantedAuthority implementation outside this package.
	KindUnsupported AuthorityKind = iota
	// KindOIDC is an authority carrying ID token claims.
	KindOIDC
	// KindOAuth2 is an authority carrying userinfo attributes of an opaque token.
	KindOAuth2
	// KindSimple is a plain named authority.
	KindSimple
)

func (k AuthorityKind) String() string {
	switch k {
	case KindOIDC:
		return "oidc"
	case KindOAuth2:
		return "oauth2"
	case KindSimple:
		return "simple"
	default:
		return "unsupported"
	}
}

const (
	// DefaultOIDCAuthority is the authority name granted to OIDC logins.
	DefaultOIDCAuthority = "OIDC_USER"
	// DefaultOAuth2Authority is the authority name granted to plain OAuth2 logins.
	DefaultOAuth2Authority = "OAUTH2_USER"
)

// GrantedAuthority is a permission or role granted to an authenticated identity.
type GrantedAuthority interface {
	Authority() string
}

// claimAccessor is implemented by the authorities carrying claims.
type claimAccessor interface {
	GrantedAuthority

	HasClaim(key string) bool
	ClaimAsMap(key string) (map[string]interface{}, error)
	Claims() MapClaims
}

var (
	_ claimAccessor = (*OIDCUserAuthority)(nil)
	_ claimAccessor = (*OAuth2UserAuthority)(nil)
)

// isNilAuthority reports nil, including a nil pointer in a non-nil interface.
func isNilAuthority(a GrantedAuthority) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

// KindOf reports the variant of the given authority.
func KindOf(a GrantedAuthority) AuthorityKind {
	switch a.(type) {
	case *OIDCUserAuthority:
		return KindOIDC
	case *OAuth2UserAuthority:
		return KindOAuth2
	case SimpleAuthority:
		return KindSimple
	default:
		return KindUnsupported
	}
}

// SimpleAuthority is a plain named authority, e.g. `ROLE_admin`.
type SimpleAuthority string

func (a SimpleAuthority) Authority() string {
	return string(a)
}

func (a SimpleAuthority) String() string {
	return string(a)
}

// OIDCUserAuthority is granted after an OIDC login and carries the ID
// token claims, plus the userinfo claims when those were fetched.
type OIDCUserAuthority struct {
	authority string
	idToken   MapClaims
	userInfo  MapClaims
}

// NewOIDCUserAuthority creates an OIDCUserAuthority with the default name.
func NewOIDCUserAuthority(idTokenClaims, userInfoClaims MapClaims) *OIDCUserAuthority {
	return NewNamedOIDCUserAuthority(DefaultOIDCAuthority, idTokenClaims, userInfoClaims)
}

// NewNamedOIDCUserAuthority creates an OIDCUserAuthority with the given name.
func NewNamedOIDCUserAuthority(name string, idTokenClaims, userInfoClaims MapClaims) *OIDCUserAuthority {
	return &OIDCUserAuthority{
		authority: name,
		idToken:   copyClaims(idTokenClaims),
		userInfo:  copyClaims(userInfoClaims),
	}
}

func (a *OIDCUserAuthority) Authority() string {
	return a.authority
}

// IDTokenClaims returns the claims of the ID token.
func (a *OIDCUserAuthority) IDTokenClaims() MapClaims {
	return copyClaims(a.idToken)
}

// UserInfoClaims returns the claims of the userinfo response, nil if
// userinfo was not fetched.
func (a *OIDCUserAuthority) UserInfoClaims() MapClaims {
	return copyClaims(a.userInfo)
}

// Claims returns the ID token claims merged with the userinfo claims.
func (a *OIDCUserAuthority) Claims() MapClaims {
	rv := make(MapClaims, len(a.idToken)+len(a.userInfo))
	for k, v := range a.idToken {
		rv[k] = v
	}
	for k, v := range a.userInfo {
		rv[k] = v
	}
	return rv
}

// HasClaim checks if the claim is present.
func (a *OIDCUserAuthority) HasClaim(key string) bool {
	if _, ok := a.userInfo[key]; ok {
		return true
	}
	_, ok := a.idToken[key]
	return ok
}

// ClaimAsMap returns the claim as a mapping. It returns nil without error
// when the claim is absent.
func (a *OIDCUserAuthority) ClaimAsMap(key string) (map[string]interface{}, error) {
	v, ok := a.userInfo[key]
	if !ok {
		v = a.idToken[key]
	}
	return claimAsMap(key, v)
}

func (a *OIDCUserAuthority) String() string {
	return fmt.Sprintf("%s [claims=%v]", a.authority, sortedKeys(a.Claims()))
}

// OAuth2UserAuthority is granted after a plain OAuth2 login and carries
// the userinfo attributes.
type OAuth2UserAuthority struct {
	authority  string
	attributes MapClaims
}

// NewOAuth2UserAuthority creates an OAuth2UserAuthority with the default name.
func NewOAuth2UserAuthority(attributes MapClaims) *OAuth2UserAuthority {
	return NewNamedOAuth2UserAuthority(DefaultOAuth2Authority, attributes)
}

// NewNamedOAuth2UserAuthority creates an OAuth2UserAuthority with the given name.
func NewNamedOAuth2UserAuthority(name string, attributes MapClaims) *OAuth2UserAuthority {
	return &OAuth2UserAuthority{
		authority:  name,
		attributes: copyClaims(attributes),
	}
}

func (a *OAuth2UserAuthority) Authority() string {
	return a.authority
}

// Attributes returns the userinfo attributes.
func (a *OAuth2UserAuthority) Attributes() MapClaims {
	return copyClaims(a.attributes)
}

// Claims returns the userinfo attributes.
func (a *OAuth2UserAuthority) Claims() MapClaims {
	return a.Attributes()
}

func (a *OAuth2UserAuthority) HasClaim(key string) bool {
	_, ok := a.attributes[key]
	return ok
}

// ClaimAsMap returns the attribute as a mapping. It returns nil without
// error when the attribute is absent.
func (a *OAuth2UserAuthority) ClaimAsMap(key string) (map[string]interface{}, error) {
	return claimAsMap(key, a.attributes[key])
}

func (a *OAuth2UserAuthority) String() string {
	return fmt.Sprintf("%s [attributes=%v]", a.authority, sortedKeys(a.attributes))
}

// copyClaims copies the top level of the claims; nested values are shared
// and never mutated by this package.
func copyClaims(c MapClaims) MapClaims {
	if c == nil {
		return nil
	}
	rv := make(MapClaims, len(c))
	for k, v := range c {
		rv[k] = v
	}
	return rv
}

func sortedKeys(c MapClaims) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func claimAsMap(key string, v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return asMap(key, v)
}

func asMap(key string, v interface{}) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, nil
	case MapClaims:
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, expected an object", ErrClaimShape, key, v)
	}
}
